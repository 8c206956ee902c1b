package constants

import "time"

// Agent constants
const (
	// AgentName is the persona name used in the system prompt
	AgentName = "COYOTE"

	// Version is reported by the health endpoints
	Version = "2.5.0"
)

// Orchestration loop constants
const (
	// MaxRounds is the ceiling on model submissions for one inbound message.
	// A model that keeps requesting tools is cut off here with a degraded answer.
	MaxRounds = 6

	// ModelMaxAttempts bounds retries of a transient model API failure
	ModelMaxAttempts = 3

	// ModelRetryBaseDelay is the first backoff delay; it doubles per attempt
	ModelRetryBaseDelay = 500 * time.Millisecond

	// ModelTimeout bounds a single model API attempt
	ModelTimeout = 30 * time.Second

	// ToolTimeout bounds a single tool executor call
	ToolTimeout = 10 * time.Second

	// ModelMaxTokens caps the completion length requested from the model
	ModelMaxTokens = 1024

	// Default model prices in USD per million tokens, used for audit costs
	ModelCostInputPerMillion  = 3.00
	ModelCostOutputPerMillion = 15.00
)

// Fixed user-visible answers for degraded terminals
const (
	// DegradedServiceAnswer is sent when the model API cannot be reached at all
	DegradedServiceAnswer = "COYOTE is having trouble reaching its brain right now. Try again in a few minutes."

	// UnableToCompleteAnswer is sent when the round ceiling is hit with no text to salvage
	UnableToCompleteAnswer = "Sorry, I couldn't complete that request. Try rephrasing or asking for less at once."

	// GenericFailureAnswer is sent when the request failed for any other reason
	GenericFailureAnswer = "Something went wrong on my end. Please try again."
)

// SMS transport constants
const (
	// SMSMaxLength is the single-segment SMS limit in GSM-7 units
	SMSMaxLength = 160

	// TwilioMaxBody is the longest body Twilio accepts on the Messages API
	TwilioMaxBody = 1600

	// TruncationMarker is appended when a reply had to be cut
	TruncationMarker = "..."

	// DedupTTL is how long an inbound message id is remembered for retry suppression
	DedupTTL = 24 * time.Hour
)

// Charset identifiers accepted by SMS_CHARSET
const (
	CharsetGSM7 = "gsm7"
	CharsetUCS2 = "ucs2"
)
