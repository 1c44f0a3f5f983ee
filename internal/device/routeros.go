package device

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/routeros"
)

const (
	cmdAddressListAdd = "/ip/firewall/address-list/add"
	cmdLogInfo        = "/log/info"
)

// ConnectFunc dials and authenticates a RouterOS session.
type ConnectFunc func(ctx context.Context, opts routeros.DialOptions) (*routeros.Session, error)

// RouterOSGateway keeps one logged-in API session. The session is dialed
// on first use and dropped after any transport failure, so the next call
// dials again.
type RouterOSGateway struct {
	opts    routeros.DialOptions
	logger  *logging.Logger
	connect ConnectFunc

	mu   sync.Mutex
	sess *routeros.Session
}

// NewRouterOSGateway creates a gateway. Nothing is dialed yet.
func NewRouterOSGateway(opts routeros.DialOptions, logger *logging.Logger) *RouterOSGateway {
	if logger == nil {
		logger = logging.WithComponent("device")
	}
	return &RouterOSGateway{opts: opts, logger: logger, connect: routeros.Connect}
}

// SetConnect replaces the dial function.
func (g *RouterOSGateway) SetConnect(fn ConnectFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connect = fn
}

// PushAddress runs /ip/firewall/address-list/add.
func (g *RouterOSGateway) PushAddress(ctx context.Context, e Entry) (Result, error) {
	words := []string{cmdAddressListAdd, "=list=" + e.List, "=address=" + e.Address}
	if e.Timeout != "" {
		words = append(words, "=timeout="+e.Timeout)
	}
	if e.Comment != "" {
		words = append(words, "=comment="+e.Comment)
	}
	replies, err := g.talk(ctx, words...)
	if err != nil {
		return Result{}, err
	}
	return Interpret(replies)
}

// Probe writes a marker line to the device log.
func (g *RouterOSGateway) Probe(ctx context.Context) error {
	replies, err := g.talk(ctx, cmdLogInfo, "=message="+ProbeMessage)
	if err != nil {
		return err
	}
	_, err = Interpret(replies)
	return err
}

// Close drops the session.
func (g *RouterOSGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return nil
	}
	err := g.sess.Close()
	g.sess = nil
	return err
}

func (g *RouterOSGateway) talk(ctx context.Context, words ...string) ([]routeros.Reply, error) {
	ctx, cancel := withDefaultTimeout(ctx, g.opts.Timeout)
	defer cancel()

	sess, err := g.session(ctx)
	if err != nil {
		return nil, err
	}
	replies, err := sess.Talk(ctx, words...)
	if err != nil {
		g.drop(sess)
		return nil, fmt.Errorf("%s: %w", words[0], err)
	}
	return replies, nil
}

func (g *RouterOSGateway) session(ctx context.Context) (*routeros.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sess != nil && g.sess.Err() == nil {
		return g.sess, nil
	}
	if g.sess != nil {
		g.sess.Close()
		g.sess = nil
	}

	sess, err := g.connect(ctx, g.opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", g.opts.Address(), err)
	}
	g.logger.Debug("session established", "device", g.opts.Address(), "secure", g.opts.Secure)
	g.sess = sess
	return sess, nil
}

func (g *RouterOSGateway) drop(sess *routeros.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == sess {
		g.sess.Close()
		g.sess = nil
		g.logger.Debug("session dropped", "device", g.opts.Address())
	}
}

// Interpret turns command replies into a result. A !trap anywhere is a
// failure carrying its message; otherwise the ret attribute of !done is
// the result.
func Interpret(replies []routeros.Reply) (Result, error) {
	for _, r := range replies {
		if r.Tag != routeros.TagTrap {
			continue
		}
		msg, ok := r.Get("message")
		if !ok || msg == "" {
			msg = "unknown error"
		}
		return Result{Message: msg}, fmt.Errorf("%w: %s", ErrPushRejected, msg)
	}
	for _, r := range replies {
		if r.Tag != routeros.TagDone {
			continue
		}
		if ret, ok := r.Get("ret"); ok {
			return Result{Message: ret}, nil
		}
	}
	return Result{Message: "unknown reply"}, nil
}
