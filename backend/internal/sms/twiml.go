package sms

import (
	"encoding/xml"
	"fmt"
)

// ContentTypeTwiML is the media type Twilio expects from a webhook
const ContentTypeTwiML = "application/xml"

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message *string  `xml:"Message,omitempty"`
}

// TwiML renders a webhook response. An empty reply acknowledges the message
// without answering it.
func TwiML(reply string) ([]byte, error) {
	doc := twimlResponse{}
	if reply != "" {
		doc.Message = &reply
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TwiML: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
