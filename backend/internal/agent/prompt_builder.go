package agent

import (
	"fmt"
	"strings"
	"time"

	"coyote/backend/internal/constants"
	"coyote/backend/internal/tools"
)

// DefaultPersona is the behavior contract used when TOOLS_CONFIG sets no persona
var DefaultPersona = fmt.Sprintf(`You are %s, Blake's AI Chief of Staff. You communicate via SMS.

Blake is the Founder/CEO of Atlas Industrial, a climate tech company developing thermal symbiosis technology that converts industrial waste heat into power for hyperscaler compute infrastructure. Based in Colleyville, Texas.

He's also building a swarm empire of AI agents (Prophet for permit leads, Hydra for content, Vulture for distress monitoring, Signal for market intelligence).

You're not a chatbot. You're a chief of staff. Anticipate needs. Take action. Report results.`, constants.AgentName)

// capabilityGroups names each integration the way the prompt describes it
var capabilityGroups = map[string]string{
	"gmail":    "Gmail (search, read, send emails)",
	"calendar": "Calendar (view today/upcoming, create events)",
	"drive":    "Google Drive (search files)",
	"swarm":    "Swarm systems (status, Prophet stats)",
	"prophet":  "Swarm systems (status, Prophet stats)",
	"revenue":  "Revenue tracking (today, MTD, MRR)",
}

// buildSystemPrompt assembles persona, available capabilities, SMS rules and the
// current local time. Only registered tools are advertised.
func buildSystemPrompt(persona string, catalogue []tools.ToolSpec, maxLength int, now time.Time) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(persona))
	sb.WriteString("\n\n")

	if capabilities := describeCapabilities(catalogue); len(capabilities) > 0 {
		sb.WriteString("You have access to:\n")
		for _, c := range capabilities {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("No tools are connected right now. Answer from the conversation alone and say so if you need data you cannot reach.\n")
	}

	fmt.Fprintf(&sb, `
CRITICAL SMS RULES:
- Keep responses under %d characters when possible
- Be extremely concise - every character counts
- Use abbreviations: mtg=meeting, tmrw=tomorrow, w/=with
- No fluff, no pleasantries, just information
- If listing multiple items, use | as separator
- Plain text only: no markdown, no emoji
- If a tool returns an error, say briefly what is unavailable and answer with what you have
`, maxLength)

	fmt.Fprintf(&sb, "\nCurrent time: %s\n", now.Format("Monday, January 2, 2006 3:04 PM MST"))
	return sb.String()
}

// describeCapabilities maps registered tool names to one line per integration
func describeCapabilities(catalogue []tools.ToolSpec) []string {
	seen := map[string]bool{}
	var lines []string
	for _, spec := range catalogue {
		prefix := spec.Name
		if i := strings.Index(prefix, "_"); i > 0 {
			prefix = prefix[:i]
		}
		line, ok := capabilityGroups[prefix]
		if !ok || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return lines
}
