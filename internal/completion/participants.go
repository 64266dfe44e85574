package completion

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/aura-webinar/meetbot/internal/models"
)

// numberedSpeaker matches generic diarization labels such as "Speaker 2" or "speaker_0".
var numberedSpeaker = regexp.MustCompile(`(?i)^speaker[\s_-]*\d+$`)

// isPlaceholderName reports names that stand for no real participant.
func isPlaceholderName(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "", "speaker", "unknown", "unknown speaker":
		return true
	}
	if numberedSpeaker.MatchString(name) {
		return true
	}
	return strings.Contains(lower, strings.ToLower(models.DefaultBotName))
}

// MergeParticipants returns the union of the given name lists without placeholders,
// deduplicated case-insensitively in first-seen order.
func MergeParticipants(sources ...[]string) []string {
	names := lo.Map(lo.Flatten(sources), func(n string, _ int) string { return strings.TrimSpace(n) })
	names = lo.Reject(names, func(n string, _ int) bool { return isPlaceholderName(n) })
	return lo.UniqBy(names, strings.ToLower)
}

// SegmentSpeakers returns the speaker labels of segments in order of appearance.
func SegmentSpeakers(segments []models.TranscriptSegment) []string {
	return lo.Uniq(lo.FilterMap(segments, func(s models.TranscriptSegment, _ int) (string, bool) {
		return s.Speaker, s.Speaker != ""
	}))
}
