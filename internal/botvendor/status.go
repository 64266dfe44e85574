package botvendor

import (
	"strings"

	"github.com/aura-webinar/meetbot/internal/models"
)

// StatusMapping is the meeting transition implied by a vendor bot status.
type StatusMapping struct {
	Status           models.MeetingStatus
	SetActualStart   bool
	SetActualEnd     bool
	CaptureRecording bool
}

var (
	// queued never moves a JOINING or later meeting back; CanAdvanceTo is forward-only.
	mapQueued     = StatusMapping{Status: models.MeetingStatusScheduled}
	mapJoining    = StatusMapping{Status: models.MeetingStatusJoining}
	mapInProgress = StatusMapping{Status: models.MeetingStatusInProgress, SetActualStart: true}
	mapEnded      = StatusMapping{Status: models.MeetingStatusProcessing, SetActualEnd: true, CaptureRecording: true}
	mapFailed     = StatusMapping{Status: models.MeetingStatusFailed}
)

// statusTable maps normalized vendor status codes. The long-form codes are what the
// vendor's webhook events carry.
var statusTable = map[string]StatusMapping{
	"queued":            mapQueued,
	"ready":             mapQueued,
	"joining":           mapJoining,
	"joining_call":      mapJoining,
	"in_waiting_room":   mapJoining,
	"in_call":           mapInProgress,
	"recording":         mapInProgress,
	"in_call_recording": mapInProgress,
	"ended":             mapEnded,
	"completed":         mapEnded,
	"call_ended":        mapEnded,
	"done":              mapEnded,
	"failed":            mapFailed,
	"fatal":             mapFailed,
}

// MapStatus maps a vendor status to a meeting transition. ok is false for statuses that
// carry no lifecycle meaning.
func MapStatus(vendorStatus string) (StatusMapping, bool) {
	key := strings.ToLower(strings.TrimSpace(vendorStatus))
	key = strings.TrimPrefix(key, "bot.")
	m, ok := statusTable[key]
	return m, ok
}
