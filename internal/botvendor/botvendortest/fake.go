// Package botvendortest provides a scriptable in-memory bot vendor.
package botvendortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aura-webinar/meetbot/internal/botvendor"
)

// Vendor records deploy calls and serves statuses and transcripts set by the test.
type Vendor struct {
	mu          sync.Mutex
	Deploys     []botvendor.DeployRequest
	DeployErr   error
	statuses    map[string]*botvendor.BotStatus
	statusErrs  map[string]error
	transcripts map[string]*botvendor.Transcript
	byKey       map[string]string
	next        int
}

// NewVendor returns an empty fake vendor.
func NewVendor() *Vendor {
	return &Vendor{
		statuses:    make(map[string]*botvendor.BotStatus),
		statusErrs:  make(map[string]error),
		transcripts: make(map[string]*botvendor.Transcript),
		byKey:       make(map[string]string),
	}
}

// DeployBot records req and returns bot-1, bot-2, ... A request repeating an earlier
// idempotency key gets the earlier bot back.
func (v *Vendor) DeployBot(ctx context.Context, req botvendor.DeployRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Deploys = append(v.Deploys, req)
	if v.DeployErr != nil {
		return "", v.DeployErr
	}
	if id, ok := v.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	v.next++
	id := fmt.Sprintf("bot-%d", v.next)
	if req.IdempotencyKey != "" {
		v.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

// DeployCount returns the number of DeployBot calls.
func (v *Vendor) DeployCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.Deploys)
}

// BotCount returns the number of distinct bots created.
func (v *Vendor) BotCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.next
}

// SetStatus sets what GetBotStatus returns for botID.
func (v *Vendor) SetStatus(botID string, st botvendor.BotStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[botID] = &st
	delete(v.statusErrs, botID)
}

// SetStatusError makes GetBotStatus fail for botID.
func (v *Vendor) SetStatusError(botID string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusErrs[botID] = err
}

// GetBotStatus returns the scripted status for botID.
func (v *Vendor) GetBotStatus(ctx context.Context, botID string) (*botvendor.BotStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.statusErrs[botID]; err != nil {
		return nil, err
	}
	st, ok := v.statuses[botID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown bot %s", botvendor.ErrVendor, botID)
	}
	c := *st
	return &c, nil
}

// SetTranscript sets what FetchTranscript returns for url.
func (v *Vendor) SetTranscript(url string, t botvendor.Transcript) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcripts[url] = &t
}

// FetchTranscript returns the scripted transcript for url.
func (v *Vendor) FetchTranscript(ctx context.Context, url string) (*botvendor.Transcript, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.transcripts[url]
	if !ok {
		return nil, fmt.Errorf("%w: no transcript at %s", botvendor.ErrVendor, url)
	}
	c := *t
	return &c, nil
}
