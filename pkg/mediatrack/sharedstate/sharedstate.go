// Package sharedstate caches the configuration and identity state other
// extensions publish, and gates backend processing on it.
package sharedstate

import (
	"maps"
	"sync"
)

// Extensions whose shared state the tracking core depends on.
const (
	Configuration = "com.mediatrack.module.configuration"
	Identity      = "com.mediatrack.module.identity"
	Analytics     = "com.mediatrack.module.analytics"
	Assurance     = "com.mediatrack.module.assurance"
)

// Configuration keys read by the backends.
const (
	KeyPrivacy     = "global.privacy"
	KeyEdgeChannel = "edgeMedia.channel"
	KeyPlayerName  = "edgeMedia.playerName"
	KeyAppVersion  = "edgeMedia.appVersion"
)

// Tracked reports whether name is one of the allow-listed extensions.
func Tracked(name string) bool {
	switch name {
	case Configuration, Identity, Analytics, Assurance:
		return true
	}
	return false
}

// Status is the resolution state of a shared-state query.
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusSet
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSet:
		return "set"
	case StatusPending:
		return "pending"
	default:
		return "none"
	}
}

// Result is the answer to a shared-state query.
type Result struct {
	Status Status
	Value  map[string]any
}

// Querier reads the current shared state of another extension.
// It is provided by the host and must not block.
type Querier interface {
	SharedState(extension string) Result
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(extension string) Result

// SharedState implements Querier.
func (f QuerierFunc) SharedState(extension string) Result {
	return f(extension)
}

// Privacy is the user's consent status from the configuration state.
type Privacy string

const (
	PrivacyOptedIn  Privacy = "optedin"
	PrivacyOptedOut Privacy = "optedout"
	PrivacyUnknown  Privacy = "optunknown"
)

// Aggregator holds the last definitive state of every allow-listed
// extension. Updates overwrite a slot; nothing expires.
type Aggregator struct {
	mu    sync.RWMutex
	slots map[string]map[string]any
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		slots: make(map[string]map[string]any),
	}
}

// Update replaces the slot for extension with value. Extensions outside
// the allow-list are ignored and Update reports false.
func (a *Aggregator) Update(extension string, value map[string]any) bool {
	if !Tracked(extension) {
		return false
	}

	snapshot := maps.Clone(value)
	if snapshot == nil {
		snapshot = map[string]any{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[extension] = snapshot
	return true
}

// Get returns a copy of the last state published by extension.
func (a *Aggregator) Get(extension string) (map[string]any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.slots[extension]
	if !ok {
		return nil, false
	}
	return maps.Clone(v), true
}

// Privacy returns the consent status; unknown until configuration arrives.
func (a *Aggregator) Privacy() Privacy {
	cfg, _ := a.Get(Configuration)
	switch p, _ := cfg[KeyPrivacy].(string); Privacy(p) {
	case PrivacyOptedIn:
		return PrivacyOptedIn
	case PrivacyOptedOut:
		return PrivacyOptedOut
	default:
		return PrivacyUnknown
	}
}

// Configured reports whether configuration names a media channel.
func (a *Aggregator) Configured() bool {
	cfg, _ := a.Get(Configuration)
	channel, _ := cfg[KeyEdgeChannel].(string)
	return channel != ""
}

// OptedOut reports whether the user explicitly opted out.
func (a *Aggregator) OptedOut() bool {
	return a.Privacy() == PrivacyOptedOut
}

// CanSend reports whether hits may be transmitted now.
func (a *Aggregator) CanSend() bool {
	return a.Configured() && a.Privacy() == PrivacyOptedIn
}
