package contextpool

import (
	"fmt"
	"strings"

	"canopy/internal/timeline"
)

// assemblePrompt stitches the reload-match block, the drained timeline
// block, and the raw task content into the prompt sent to the provider.
func assemblePrompt(reloadBlock, timelineBlock, content string) string {
	var b strings.Builder
	if reloadBlock != "" {
		b.WriteString(reloadBlock)
		b.WriteString("\n")
	}
	if timelineBlock != "" {
		b.WriteString(timelineBlock)
		b.WriteString("\n")
	}
	b.WriteString(content)
	return b.String()
}

// formatTimeline renders drained timeline entries into a compact "recent
// interactions" block for the main-agent prompt.
func formatTimeline(entries []timeline.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent interactions:\n")
	for _, e := range entries {
		switch e.Kind {
		case timeline.EntryUser:
			fmt.Fprintf(&b, "- user %s", e.Interaction.Kind)
			if e.Interaction.WindowTitle != "" {
				fmt.Fprintf(&b, " in window %q", e.Interaction.WindowTitle)
			}
			b.WriteString("\n")
		case timeline.EntryAI:
			fmt.Fprintf(&b, "- %s: %s\n", e.Role, e.Summary)
		}
	}
	return b.String()
}
