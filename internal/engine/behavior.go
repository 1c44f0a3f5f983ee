package engine

import (
	"strings"

	"grimm.is/knockgate/internal/reputation"
)

// Behavior classifies one observed request.
type Behavior string

const (
	// Good resets strikes and trusts the address.
	Good Behavior = "good"
	// Bad adds a strike; reaching the threshold blocks the address.
	Bad Behavior = "bad"
	// Danger blocks the address at once.
	Danger Behavior = "danger"
)

// normalize maps anything unrecognized to Danger.
func (b Behavior) normalize() Behavior {
	switch b {
	case Good, Bad, Danger:
		return b
	}
	return Danger
}

func (b Behavior) event() reputation.Event {
	switch b {
	case Good:
		return reputation.EventGood
	case Bad:
		return reputation.EventBad
	}
	return reputation.EventDanger
}

// Reasons recorded by the engine and the HTTP layer.
const (
	ReasonRoot          = "root"
	ReasonWrongPath     = "wrong path"
	ReasonStatusUnsafe  = "status unsafe"
	ReasonReloadUnsafe  = "reload unsafe"
	ReasonUnknownUser   = "unknown user"
	ReasonPermanent     = "permanent access"
	ReasonValidDate     = "valid date access"
	ReasonDateExpired   = "date expired"
	ReasonThreshold     = "threshold exceeded"
	ReasonDecisionError = "decision error"

	ReasonWrongMethod  = "wrong request method"
	ReasonPortScan     = "port scan"
	ReasonMalformed    = "malformed request"
	ReasonHandlerPanic = "handler panic"
	ReasonRequestFlood = "request flood"
)

// CommentPrefix starts every address-list comment the gateway writes.
const CommentPrefix = "web_knocking_"

// Comment builds an address-list comment from its parts, with spaces
// replaced by underscores.
func Comment(parts ...string) string {
	return CommentPrefix + strings.ReplaceAll(strings.Join(parts, "_"), " ", "_")
}
