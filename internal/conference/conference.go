// Package conference finds conferencing join links in calendar events and classifies them.
package conference

import (
	"regexp"
	"strings"

	"github.com/aura-webinar/meetbot/internal/models"
)

// EntryPoint is one way of joining a conference (video, phone, sip, ...).
type EntryPoint struct {
	Type string
	URI  string
}

// Source is the subset of a calendar event that can carry a join link.
type Source struct {
	ConferenceURL string // dedicated conferencing field (e.g. Google's hangoutLink)
	EntryPoints   []EntryPoint
	Description   string
}

// Known provider URL shapes, tried in order against free text.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://meet\.google\.com/[a-z]{3}-[a-z]{4}-[a-z]{3}`),
	regexp.MustCompile(`https://(?:[a-zA-Z0-9-]+\.)?zoom\.us/(?:j|my|w)/[^\s"'<>]+`),
	regexp.MustCompile(`https://teams\.(?:microsoft|live)\.com/(?:l/meetup-join|meet)/[^\s"'<>]+`),
}

// ExtractURL returns the join URL for src, checking the dedicated conferencing field, then
// video entry points, then provider links inside the description. ok is false when the
// event has no conferencing link.
func ExtractURL(src Source) (url string, ok bool) {
	if u := strings.TrimSpace(src.ConferenceURL); u != "" {
		return u, true
	}
	for _, ep := range src.EntryPoints {
		if strings.EqualFold(ep.Type, "video") && strings.TrimSpace(ep.URI) != "" {
			return strings.TrimSpace(ep.URI), true
		}
	}
	if src.Description == "" {
		return "", false
	}
	for _, re := range urlPatterns {
		if m := re.FindString(src.Description); m != "" {
			return strings.TrimRight(m, ".,;)"), true
		}
	}
	return "", false
}

// DetectPlatform classifies a join URL by hostname. Unrecognized hosts are PlatformUnknown.
func DetectPlatform(url string) models.Platform {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "meet.google.com"):
		return models.PlatformGoogleMeet
	case strings.Contains(u, "zoom.us"):
		return models.PlatformZoom
	case strings.Contains(u, "teams.microsoft.com"), strings.Contains(u, "teams.live.com"):
		return models.PlatformMicrosoftTeams
	default:
		return models.PlatformUnknown
	}
}
