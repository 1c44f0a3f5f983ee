// Package reputation keeps one record per client address that has ever
// contacted the gateway: its status, strike count and the reason for the
// last decision.
//
// Status changes follow a fixed transition table:
//
//	good    new, untrusted, blocked, trusted -> trusted
//	bad     new, untrusted                   -> untrusted
//	danger  new, untrusted, blocked          -> blocked
//	demote  trusted                          -> untrusted (Demoted set)
//
// A trusted address can never move straight to blocked. It has to be
// demoted first, after which ordinary strikes apply.
package reputation

import "time"

// Status is the standing of an address.
type Status string

const (
	StatusNew       Status = "new"
	StatusTrusted   Status = "trusted"
	StatusUntrusted Status = "untrusted"
	StatusBlocked   Status = "blocked"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusNew, StatusTrusted, StatusUntrusted, StatusBlocked}

// Event names a status transition.
type Event string

const (
	EventGood   Event = "good"
	EventBad    Event = "bad"
	EventDanger Event = "danger"
	EventDemote Event = "demote"
)

// ReasonNew is the reason recorded on first contact.
const ReasonNew = "new"

// AddressRecord is the reputation of one client address.
type AddressRecord struct {
	Address string `json:"address"`
	Strikes int    `json:"strikes"`
	Status  Status `json:"status"`
	Reason  string `json:"reason"`
	// Owner is the user whose passcode last trusted this address.
	Owner string `json:"owner,omitempty"`
	// Demoted marks a formerly trusted address whose owner was removed.
	Demoted   bool      `json:"demoted,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewRecord returns the record created on first contact.
func NewRecord(addr string, now time.Time) *AddressRecord {
	return &AddressRecord{
		Address:   addr,
		Status:    StatusNew,
		Reason:    ReasonNew,
		FirstSeen: now,
		LastSeen:  now,
	}
}

// Trusted reports whether the address is protected from strikes.
func (r *AddressRecord) Trusted() bool {
	return r.Status == StatusTrusted
}

// Blocked reports whether the address is on the black list.
func (r *AddressRecord) Blocked() bool {
	return r.Status == StatusBlocked
}
