package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// record's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = fsm.Events{
	{Name: string(EventGood), Src: []string{string(StatusNew), string(StatusUntrusted), string(StatusBlocked), string(StatusTrusted)}, Dst: string(StatusTrusted)},
	{Name: string(EventBad), Src: []string{string(StatusNew), string(StatusUntrusted)}, Dst: string(StatusUntrusted)},
	{Name: string(EventDanger), Src: []string{string(StatusNew), string(StatusUntrusted), string(StatusBlocked)}, Dst: string(StatusBlocked)},
	{Name: string(EventDemote), Src: []string{string(StatusTrusted)}, Dst: string(StatusUntrusted)},
}

// Next returns the status ev leads to from s.
func Next(ctx context.Context, s Status, ev Event) (Status, error) {
	machine := fsm.NewFSM(string(s), transitions, fsm.Callbacks{})
	err := machine.Event(ctx, string(ev))

	var same fsm.NoTransitionError
	if err != nil && !errors.As(err, &same) {
		return s, fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, ev, s, err)
	}
	return Status(machine.Current()), nil
}

// Can reports whether ev is allowed from s.
func Can(s Status, ev Event) bool {
	return fsm.NewFSM(string(s), transitions, fsm.Callbacks{}).Can(string(ev))
}

// Apply moves the record through ev and updates the fields that go with
// the new status. The record is unchanged when the transition is invalid.
func (r *AddressRecord) Apply(ctx context.Context, ev Event, reason string, now time.Time) error {
	next, err := Next(ctx, r.Status, ev)
	if err != nil {
		return err
	}

	r.Status = next
	r.Reason = reason
	r.LastSeen = now
	switch ev {
	case EventGood:
		r.Strikes = 0
		r.Demoted = false
	case EventDanger:
		r.Strikes = 0
	case EventDemote:
		r.Strikes = 0
		r.Demoted = true
	}
	return nil
}
