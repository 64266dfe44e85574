package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/meetbot/internal/models"
)

func TestExtractURL_Priority(t *testing.T) {
	tests := []struct {
		name   string
		src    Source
		want   string
		wantOK bool
	}{
		{
			name: "dedicated field wins",
			src: Source{
				ConferenceURL: "https://meet.google.com/abc-defg-hij",
				EntryPoints:   []EntryPoint{{Type: "video", URI: "https://zoom.us/j/123"}},
				Description:   "https://teams.microsoft.com/l/meetup-join/xyz",
			},
			want:   "https://meet.google.com/abc-defg-hij",
			wantOK: true,
		},
		{
			name: "video entry point before description",
			src: Source{
				EntryPoints: []EntryPoint{
					{Type: "phone", URI: "tel:+1-555-0100"},
					{Type: "video", URI: "https://acme.zoom.us/j/987654321"},
				},
				Description: "https://meet.google.com/abc-defg-hij",
			},
			want:   "https://acme.zoom.us/j/987654321",
			wantOK: true,
		},
		{
			name:   "meet link in description",
			src:    Source{Description: "Join at https://meet.google.com/xyz-abcd-efg please"},
			want:   "https://meet.google.com/xyz-abcd-efg",
			wantOK: true,
		},
		{
			name:   "zoom link with password in html description",
			src:    Source{Description: `<a href="https://us02web.zoom.us/j/8812345678?pwd=abc123">Join</a>`},
			want:   "https://us02web.zoom.us/j/8812345678?pwd=abc123",
			wantOK: true,
		},
		{
			name:   "teams link trailing punctuation trimmed",
			src:    Source{Description: "Teams: https://teams.microsoft.com/l/meetup-join/19%3ameeting_x%40thread.v2/0."},
			want:   "https://teams.microsoft.com/l/meetup-join/19%3ameeting_x%40thread.v2/0",
			wantOK: true,
		},
		{
			name:   "no conferencing",
			src:    Source{Description: "Lunch at the usual place"},
			wantOK: false,
		},
		{
			name:   "empty event",
			src:    Source{},
			wantOK: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractURL(tc.src)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want models.Platform
	}{
		{"https://meet.google.com/abc-defg-hij", models.PlatformGoogleMeet},
		{"https://us02web.zoom.us/j/123", models.PlatformZoom},
		{"https://teams.microsoft.com/l/meetup-join/abc", models.PlatformMicrosoftTeams},
		{"https://teams.live.com/meet/123", models.PlatformMicrosoftTeams},
		{"https://whereby.com/room", models.PlatformUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectPlatform(tc.url))
		})
	}
}
