package routeros

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Reply tags
const (
	TagDone  = "!done"
	TagTrap  = "!trap"
	TagReply = "!re"
	TagFatal = "!fatal"
)

var (
	ErrLoginRejected = errors.New("login rejected by device")
	ErrFatal         = errors.New("device sent !fatal")
	ErrSessionBroken = errors.New("session is broken")
	ErrBadChallenge  = errors.New("malformed login challenge")
)

// Reply is one sentence received from the device.
type Reply struct {
	Tag   string
	Attrs map[string]string
}

// Get returns the attribute value and whether it was present.
func (r Reply) Get(key string) (string, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}

// TraceFunc receives every word written ("<<<") or read (">>>").
type TraceFunc func(direction, word string)

// Session is an exchange channel over a single connection. At most one
// Talk is in flight at a time; concurrent callers are serialized.
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	mu      sync.Mutex
	broken  error
	timeout time.Duration
	trace   TraceFunc
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTimeout bounds every exchange that has no earlier context deadline.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithTrace installs a word tracer.
func WithTrace(fn TraceFunc) SessionOption {
	return func(s *Session) { s.trace = fn }
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, opts ...SessionOption) *Session {
	s := &Session{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Err returns the error that broke the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// Close closes the underlying connection. An exchange in flight is
// aborted.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.mu.Lock()
	if s.broken == nil {
		s.broken = ErrSessionBroken
	}
	s.mu.Unlock()
	return err
}

// Login authenticates with the device. Both the plain login (RouterOS
// 6.43+) and the legacy MD5 challenge are handled.
func (s *Session) Login(ctx context.Context, username, password string) error {
	replies, err := s.Talk(ctx, "/login", "=name="+username, "=password="+password)
	if err != nil {
		return err
	}
	if hasTag(replies, TagTrap) {
		return ErrLoginRejected
	}

	for _, r := range replies {
		challenge, ok := r.Get("ret")
		if !ok {
			continue
		}
		response, err := ChallengeResponse(password, challenge)
		if err != nil {
			return err
		}
		replies, err = s.Talk(ctx, "/login", "=name="+username, "=response="+response)
		if err != nil {
			return err
		}
		if hasTag(replies, TagTrap) {
			return ErrLoginRejected
		}
		break
	}
	return nil
}

// ChallengeResponse computes the legacy login response:
// "00" + hex(MD5(0x00 || password || challenge)).
func ChallengeResponse(password, challengeHex string) (string, error) {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChallenge, err)
	}
	h := md5.New()
	h.Write([]byte{0x00})
	h.Write([]byte(password))
	h.Write(challenge)
	return "00" + hex.EncodeToString(h.Sum(nil)), nil
}

// Talk sends one sentence and collects replies up to and including the
// terminating !done. Any I/O failure breaks the session; the command
// outcome is then unknown and must not be assumed applied.
func (s *Session) Talk(ctx context.Context, words ...string) ([]Reply, error) {
	if len(words) == 0 {
		return nil, errors.New("empty sentence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, s.broken
	}

	stop := s.bindDeadline(ctx)
	defer stop()

	for _, w := range words {
		s.traceWord("<<<", w)
	}
	if err := WriteSentence(s.conn, words); err != nil {
		return nil, s.fail(ctx, err)
	}

	var replies []Reply
	for {
		sentence, err := ReadSentence(s.r)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		if len(sentence) == 0 {
			continue
		}
		for _, w := range sentence {
			s.traceWord(">>>", w)
		}

		reply := parseReply(sentence)
		replies = append(replies, reply)

		switch reply.Tag {
		case TagDone:
			return replies, nil
		case TagFatal:
			msg := reply.Attrs["message"]
			if msg == "" && len(sentence) > 1 {
				msg = sentence[1]
			}
			s.broken = fmt.Errorf("%w: %s", ErrFatal, msg)
			return replies, s.broken
		}
	}
}

// bindDeadline applies the context deadline (or the session timeout) to
// the connection and aborts blocked I/O when ctx is cancelled.
func (s *Session) bindDeadline(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok && s.timeout > 0 {
		deadline, ok = time.Now().Add(s.timeout), true
	}
	if ok {
		_ = s.conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = s.conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		_ = s.conn.SetDeadline(time.Time{})
	}
}

func (s *Session) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	} else if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	s.broken = err
	return err
}

func (s *Session) traceWord(direction, w string) {
	if s.trace == nil {
		return
	}
	if strings.HasPrefix(w, "=password=") {
		w = "=password=***"
	}
	s.trace(direction, w)
}

// parseReply splits attribute words on the first '=' after the leading
// one. Words without a value map to "".
func parseReply(sentence []string) Reply {
	reply := Reply{Tag: sentence[0], Attrs: make(map[string]string, len(sentence)-1)}
	for _, w := range sentence[1:] {
		key := w
		val := ""
		if i := strings.Index(w[1:], "="); i >= 0 {
			key, val = w[:i+1], w[i+2:]
		}
		reply.Attrs[strings.TrimPrefix(key, "=")] = val
	}
	return reply
}

func hasTag(replies []Reply, tag string) bool {
	for _, r := range replies {
		if r.Tag == tag {
			return true
		}
	}
	return false
}
