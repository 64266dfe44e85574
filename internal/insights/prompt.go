package insights

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aura-webinar/meetbot/internal/models"
)

const truncationMarker = "\n[transcript truncated]"

const schemaInstructions = `Respond with a single JSON object and nothing else, using exactly these keys:
{
  "summary": string,
  "key_topics": [string],
  "action_items": [{"task": string, "owner": string, "deadline": string}],
  "decisions": [string],
  "follow_up_questions": [string],
  "sentiment": "positive" | "neutral" | "negative" | "mixed",
  "participation_summary": string
}
Use an empty string for an unknown owner or deadline and an empty list when nothing applies.`

// SystemPrompt describes the meeting and the required reply schema.
func SystemPrompt(m *models.Meeting, participants []string) string {
	var b strings.Builder
	b.WriteString("You analyze meeting transcripts and extract structured insights.\n\n")
	b.WriteString("Meeting context:\n")
	fmt.Fprintf(&b, "- Title: %s\n", m.Title)
	fmt.Fprintf(&b, "- Scheduled: %s\n", m.ScheduledStart.UTC().Format("Mon, 02 Jan 2006 15:04 MST"))
	if m.Duration != nil {
		fmt.Fprintf(&b, "- Duration: %d minutes\n", (*m.Duration+30)/60)
	}
	if len(participants) > 0 {
		fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(participants, ", "))
	}
	b.WriteString("\n")
	b.WriteString(schemaInstructions)
	return b.String()
}

// UserPrompt wraps the transcript.
func UserPrompt(transcript string) string {
	return "Here is the meeting transcript:\n\n" + transcript
}

// Truncate cuts s to at most max bytes on a rune boundary and marks the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
