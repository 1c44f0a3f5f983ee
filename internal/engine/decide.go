package engine

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/i18n"
)

// Paths with a meaning of their own. Every other path is a ban.
const (
	RootPath   = "/"
	AccessPath = "/access"
	StatusPath = "/status"
	ReloadPath = "/reload"
)

// Plain-text answers of /status and /reload.
const (
	StatusNobody = "nobody\tnever\tnowhere"
	ReloadOK     = "reload ok"
	ReloadFailed = "reload failed"
)

// StatusTimeLayout formats the last access time in /status output.
const StatusTimeLayout = "2006.01.02 15:04:05"

// ExpiredDateLayout formats the expiry date shown to the client.
const ExpiredDateLayout = "02.01.2006"

// Decide routes one request path and returns the message to show. The
// returned error reports an internal failure; the message is then the
// localized ban text.
func (e *Engine) Decide(ctx context.Context, path, addr string) (string, error) {
	switch {
	case path == RootPath:
		return e.ban(ctx, path, addr, ReasonRoot)
	case path == StatusPath:
		return e.status(ctx, addr)
	case path == ReloadPath:
		return e.reload(ctx, addr)
	case path == AccessPath || strings.HasPrefix(path, AccessPath):
		return e.access(ctx, path, addr)
	default:
		return e.ban(ctx, path, addr, ReasonWrongPath)
	}
}

func (e *Engine) ban(ctx context.Context, path, addr, reason string) (string, error) {
	st, d := e.decide(ctx, path, addr, func(st *State, d *decision) {
		e.apply(ctx, st, d, input{addr: addr, behavior: Danger, reason: reason})
	})
	return st.Printer.Sprintf(i18n.Ban), d.err
}

// passcode extracts the passcode from an access path. ok is false when
// the path only looks like an access path, such as "/accessible".
func passcode(path, sep string) (code string, ok bool) {
	rest := strings.TrimPrefix(path, AccessPath)
	if rest == "" {
		return "", true
	}
	if !strings.HasPrefix(rest, sep) {
		return "", false
	}
	code = rest[len(sep):]
	if i := strings.Index(code, sep); i >= 0 {
		code = code[:i]
	}
	return code, true
}

func (e *Engine) access(ctx context.Context, path, addr string) (string, error) {
	st, d := e.decide(ctx, path, addr, func(st *State, d *decision) {
		g := st.General()
		p := st.Printer
		log := e.logger.WithAddress(addr)

		code, ok := passcode(path, g.PassSeparator)
		if !ok {
			e.apply(ctx, st, d, input{addr: addr, behavior: Danger, reason: ReasonWrongPath})
			d.message = p.Sprintf(i18n.Ban)
			return
		}

		u, found := st.Users.Lookup(code)
		if !found || code == "" {
			e.apply(ctx, st, d, input{addr: addr, behavior: Bad, reason: ReasonUnknownUser})
			d.message = p.Sprintf(i18n.UnknownPasscode)
			return
		}

		now := e.clk.Now()
		if !u.Valid(now) {
			log.Info("date expired", "user", u.Name)
			e.apply(ctx, st, d, input{addr: addr, behavior: Bad, reason: ReasonDateExpired, owner: u.Name})
			d.message = p.Sprintf(i18n.PasscodeExpired, u.Name, u.Expires.Format(ExpiredDateLayout))
			return
		}

		gr := &grant{user: u.Name, permanent: u.Permanent()}
		reason := ReasonPermanent
		gr.entry = device.Entry{Address: addr, List: g.WhiteList, Comment: Comment("permanent", u.Name), Timeout: g.PermTimeout}
		if !gr.permanent {
			reason = ReasonValidDate
			gr.entry.Comment = Comment("date", u.Name)
			gr.entry.Timeout = g.TempTimeout
		}

		log.Info(reason, "user", u.Name)
		if !e.apply(ctx, st, d, input{addr: addr, behavior: Good, reason: reason, owner: u.Name}) {
			d.message = p.Sprintf(i18n.AccessError, u.Name)
			return
		}
		u.RecordAccess(addr, now)
		d.grant = gr
	})
	if d.err != nil {
		return st.Printer.Sprintf(i18n.Ban), d.err
	}
	return d.message, nil
}

func (e *Engine) status(ctx context.Context, addr string) (string, error) {
	st, d := e.decide(ctx, StatusPath, addr, func(st *State, d *decision) {
		if !st.General().IsSafeHost(addr) {
			e.apply(ctx, st, d, input{addr: addr, behavior: Danger, reason: ReasonStatusUnsafe})
			d.message = st.Printer.Sprintf(i18n.Ban)
			return
		}
		u, ok := st.Users.MostRecent()
		d.message = StatusLine(u, ok)
	})
	if d.err != nil {
		return st.Printer.Sprintf(i18n.Ban), d.err
	}
	return d.message, nil
}

func (e *Engine) reload(ctx context.Context, addr string) (string, error) {
	safe := false
	st, d := e.decide(ctx, ReloadPath, addr, func(st *State, d *decision) {
		if st.General().IsSafeHost(addr) {
			safe = true
			return
		}
		e.apply(ctx, st, d, input{addr: addr, behavior: Danger, reason: ReasonReloadUnsafe})
	})
	if !safe {
		return st.Printer.Sprintf(i18n.Ban), d.err
	}

	fn := e.reloader.Load()
	if fn == nil {
		return ReloadFailed + ": reload is not available", nil
	}
	log := e.logger.WithAddress(addr)
	log.Info("reload requested")
	if err := (*fn)(ctx); err != nil {
		log.Error("reload failed", "error", err)
		return fmt.Sprintf("%s: %v", ReloadFailed, err), nil
	}
	return ReloadOK, nil
}

// StatusLine formats the /status summary of the most recent user.
func StatusLine(u credentials.UserRecord, ok bool) string {
	if !ok {
		return StatusNobody
	}
	return fmt.Sprintf("%s\t%s\t%s", u.Name, u.LastAccess.Format(StatusTimeLayout), MaskAddress(u.LastAddress()))
}

// MaskAddress hides the host part of an address: the last two octets of
// IPv4, everything past the first two groups of IPv6.
func MaskAddress(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "*"
	}
	if ip.Is4() || ip.Is4In6() {
		b := ip.Unmap().As4()
		return fmt.Sprintf("%d.%d.*.*", b[0], b[1])
	}
	b := ip.As16()
	return fmt.Sprintf("%x:%x:*", uint16(b[0])<<8|uint16(b[1]), uint16(b[2])<<8|uint16(b[3]))
}
