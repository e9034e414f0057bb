package notify

import (
	"fmt"
	"sort"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var urgencyEmoji = map[string]string{
	"critical": ":rotating_light:",
	"high":     ":warning:",
	"medium":   ":bell:",
	"low":      ":information_source:",
}

// BuildEscalationMessage creates Block Kit blocks for an escalation
// notification. Metadata fields render as a context block, sorted by
// key so output is stable.
func BuildEscalationMessage(message, urgency string, metadata map[string]any) []goslack.Block {
	emoji := urgencyEmoji[urgency]
	if emoji == "" {
		emoji = ":bell:"
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("%s *%s*", emoji, truncate(message)), false, false),
			nil, nil,
		),
	}

	if len(metadata) > 0 {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		elems := make([]goslack.MixedElement, 0, len(keys))
		for _, k := range keys {
			elems = append(elems, goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("*%s:* %v", k, metadata[k]), false, false))
		}
		blocks = append(blocks, goslack.NewContextBlock("", elems...))
	}

	return blocks
}

func truncate(s string) string {
	if len(s) <= maxBlockTextLength {
		return s
	}
	return s[:maxBlockTextLength] + "..."
}
