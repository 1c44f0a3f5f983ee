package engine

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/i18n"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/reputation"
)

// input is one behavior report for an address.
type input struct {
	addr     string
	behavior Behavior
	reason   string
	// owner is the user whose passcode was presented. Only a good
	// behavior makes it the record's owner.
	owner string
}

// outcome is what the engine did to one address record.
type outcome struct {
	addr     string
	behavior Behavior
	reason   string
	status   reputation.Status
	strikes  int
	owner    string
	// ignored is set when a safe host or trusted address was left alone.
	ignored bool
	block   *device.Entry
}

// grant is a white-list push that follows a good decision.
type grant struct {
	user      string
	permanent bool
	entry     device.Entry
}

// decision collects everything decided under the lock that still has to
// be carried out after it is released.
type decision struct {
	path     string
	outcomes []outcome
	grant    *grant
	message  string
	err      error
}

// decide runs fn under the decision lock and then performs the pushes,
// metrics and journal writes fn queued.
func (e *Engine) decide(ctx context.Context, path, addr string, fn func(st *State, d *decision)) (*State, *decision) {
	d := &decision{path: path}
	st := e.runLocked(ctx, addr, d, fn)
	e.carryOut(ctx, st, d)
	return st, d
}

// runLocked calls fn with the decision lock held. A panic in fn drops any
// pending grant, is returned through d.err and costs addr a strike with
// reason "decision error"; the lock is released either way.
func (e *Engine) runLocked(ctx context.Context, addr string, d *decision, fn func(st *State, d *decision)) (st *State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st = e.state.Load()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log := e.logger.WithAddress(addr)
		d.err = fmt.Errorf("%w: %v", ErrDecisionPanic, r)
		d.grant = nil
		log.Error("decision failed", "path", audit.MaskPath(d.path, AccessPath), "error", d.err)

		fallback, err := e.processLocked(ctx, st, input{addr: addr, behavior: Bad, reason: ReasonDecisionError})
		if err != nil {
			log.Error("recording decision error failed", "error", err)
			return
		}
		d.outcomes = append(d.outcomes, fallback)
	}()

	fn(st, d)
	return st
}

// Process applies one behavior report. It returns the reason recorded
// for the address. An internal failure records a best-effort strike with
// reason "decision error" and is returned as an error.
func (e *Engine) Process(ctx context.Context, addr string, behavior Behavior, reason string) (string, error) {
	_, d := e.decide(ctx, "", addr, func(st *State, d *decision) {
		e.apply(ctx, st, d, input{addr: addr, behavior: behavior, reason: reason})
	})
	if d.err != nil {
		return "", d.err
	}
	return d.outcomes[0].reason, nil
}

// apply must be called with the decision lock held.
func (e *Engine) apply(ctx context.Context, st *State, d *decision, in input) bool {
	out, err := e.processLocked(ctx, st, in)
	if err == nil {
		d.outcomes = append(d.outcomes, out)
		return true
	}

	e.logger.WithAddress(in.addr).Error("decision failed", "behavior", in.behavior, "reason", in.reason, "error", err)
	d.err = err
	fallback, ferr := e.processLocked(ctx, st, input{addr: in.addr, behavior: Bad, reason: ReasonDecisionError})
	if ferr != nil {
		e.logger.WithAddress(in.addr).Error("recording decision error failed", "error", ferr)
		return false
	}
	d.outcomes = append(d.outcomes, fallback)
	return false
}

// processLocked implements the decision rules in order of precedence:
// safe hosts, then trusted addresses, then the demoted tie-break, then
// first contact, strikes and the status change itself.
func (e *Engine) processLocked(ctx context.Context, st *State, in input) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDecisionPanic, r)
		}
	}()

	g := st.General()
	log := e.logger.WithAddress(in.addr)
	behavior := in.behavior.normalize()
	reason := in.reason
	if reason == "" {
		reason = string(behavior)
	}
	out = outcome{addr: in.addr, behavior: behavior, reason: reason, owner: in.owner}

	if behavior != Good && g.IsSafeHost(in.addr) {
		log.Debug("do not ban safe host", "behavior", behavior, "reason", reason)
		out.ignored = true
		return out, nil
	}

	rec, known := st.Addresses.Get(in.addr)
	if known && behavior != Good && rec.Trusted() {
		log.Debug("do not ban trusted address", "behavior", behavior, "reason", reason)
		out.ignored = true
		out.status = rec.Status
		return out, nil
	}
	if known && rec.Demoted && behavior == Danger {
		log.Debug("demoted address, counting as a strike", "reason", reason)
		behavior = Bad
	}

	now := e.clk.Now()
	rec, _ = st.Addresses.Touch(in.addr, now)

	strikes := rec.Strikes
	if behavior == Bad {
		if rec.Blocked() {
			behavior = Danger
		} else {
			strikes++
			if strikes >= g.BlackThreshold {
				behavior = Danger
				reason = ReasonThreshold
			} else {
				reason = fmt.Sprintf("%s (%d/%d)", reason, strikes, g.BlackThreshold)
			}
		}
	}

	if err := rec.Apply(ctx, behavior.event(), reason, now); err != nil {
		return out, err
	}

	switch behavior {
	case Good:
		if in.owner != "" {
			rec.Owner = in.owner
		}
	case Bad:
		rec.Strikes = strikes
		log.Debug("bad behavior", "reason", reason)
	case Danger:
		log.Info("add to black list", "reason", reason)
		out.block = &device.Entry{
			Address: in.addr,
			List:    g.BlackList,
			Comment: Comment(reason),
			Timeout: g.BlackTimeout,
		}
	}

	out.behavior = behavior
	out.reason = reason
	out.status = rec.Status
	out.strikes = rec.Strikes
	out.owner = rec.Owner
	if in.owner != "" {
		out.owner = in.owner
	}
	return out, nil
}

// carryOut runs without the decision lock. Pushes are detached from the
// request context so a client hanging up does not abort them.
func (e *Engine) carryOut(ctx context.Context, st *State, d *decision) {
	pushCtx := context.WithoutCancel(ctx)

	for _, out := range d.outcomes {
		if !out.ignored {
			e.metrics.RecordDecision(string(out.behavior), string(out.status))
			if out.behavior == Bad {
				e.metrics.Strikes.Inc()
			}
		}

		details := map[string]any{}
		if out.ignored {
			details["ignored"] = true
		}
		if out.block != nil {
			e.metrics.Blocks.Inc()
			if res, err := e.push(pushCtx, st, *out.block); err != nil {
				e.logger.WithAddress(out.addr).Error("error on adding to black list", "list", out.block.List, "error", err)
				details["push_error"] = err.Error()
			} else {
				details["push"] = res.Message
			}
		}
		e.record(ctx, d.path, out, details)
	}

	if g := d.grant; g != nil {
		p := st.Printer
		kind := "temporary"
		if g.permanent {
			kind = "permanent"
		}
		res, err := e.push(pushCtx, st, g.entry)
		switch {
		case err != nil:
			e.logger.WithAddress(g.entry.Address).Error("error on adding to white list", "user", g.user, "error", err)
			d.message = p.Sprintf(i18n.AccessError, g.user)
		case g.permanent:
			e.metrics.Grants.WithLabelValues(kind).Inc()
			d.message = p.Sprintf(i18n.AccessGranted, g.user)
		default:
			e.metrics.Grants.WithLabelValues(kind).Inc()
			d.message = p.Sprintf(i18n.AccessGrantedFor, g.user, st.General().TempTimeout)
		}
		if err == nil {
			e.logger.WithAddress(g.entry.Address).Debug("white list updated", "user", g.user, "reply", res.Message)
		}
	}
}

// push sends one entry to the device and records the result.
func (e *Engine) push(ctx context.Context, st *State, entry device.Entry) (device.Result, error) {
	if st.Gateway == nil {
		return device.Result{}, errors.New("no device gateway configured")
	}

	start := e.clk.Now()
	res, err := st.Gateway.PushAddress(ctx, entry)
	elapsed := e.clk.Since(start)

	result := metrics.PushOK
	switch {
	case errors.Is(err, device.ErrPushRejected):
		result = metrics.PushRejected
	case err != nil:
		result = metrics.PushFailed
	}
	e.metrics.RecordPush(entry.List, result, elapsed)
	return res, err
}

func (e *Engine) record(ctx context.Context, path string, out outcome, details map[string]any) {
	if e.journal == nil {
		return
	}
	if len(details) == 0 {
		details = nil
	}
	evt := audit.Event{
		RequestID: RequestID(ctx),
		Timestamp: e.clk.Now(),
		Address:   out.addr,
		Path:      audit.MaskPath(path, AccessPath),
		Behavior:  string(out.behavior),
		Status:    string(out.status),
		Strikes:   out.strikes,
		Reason:    out.reason,
		User:      out.owner,
		Details:   details,
	}
	if err := e.journal.Write(evt); err != nil {
		e.logger.Warn("journal write failed", "error", err)
	}
}
