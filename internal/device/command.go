package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grimm.is/knockgate/internal/logging"
)

// Runner executes one rendered command.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
	// Check verifies the runner can execute commands at all.
	Check(ctx context.Context) error
}

// CommandGateway renders a command template per entry and hands it to a
// Runner.
type CommandGateway struct {
	template string
	runner   Runner
	timeout  time.Duration
	logger   *logging.Logger
}

// NewCommandGateway creates a gateway for the template. The placeholders
// {ip}, {list_name}, {comment} and {timeout} are substituted.
func NewCommandGateway(template string, runner Runner, timeout time.Duration, logger *logging.Logger) *CommandGateway {
	if logger == nil {
		logger = logging.WithComponent("device")
	}
	return &CommandGateway{template: template, runner: runner, timeout: timeout, logger: logger}
}

// Render substitutes the entry into template. Whitespace-separated
// fields whose placeholders all render empty are dropped, so
// "timeout={timeout}" disappears for permanent entries.
func Render(template string, e Entry) string {
	values := map[string]string{
		"{ip}":        e.Address,
		"{list_name}": e.List,
		"{comment}":   e.Comment,
		"{timeout}":   e.Timeout,
	}
	r := strings.NewReplacer("{ip}", e.Address, "{list_name}", e.List, "{comment}", e.Comment, "{timeout}", e.Timeout)

	var out []string
	for _, field := range strings.Fields(template) {
		empty, placeholders := true, 0
		for ph, v := range values {
			if strings.Contains(field, ph) {
				placeholders++
				if v != "" {
					empty = false
				}
			}
		}
		if placeholders > 0 && empty {
			continue
		}
		out = append(out, r.Replace(field))
	}
	return strings.Join(out, " ")
}

// PushAddress renders and runs the template.
func (g *CommandGateway) PushAddress(ctx context.Context, e Entry) (Result, error) {
	ctx, cancel := withDefaultTimeout(ctx, g.timeout)
	defer cancel()

	cmd := Render(g.template, e)
	g.logger.Debug("running command", "cmd", cmd)

	out, err := g.runner.Run(ctx, cmd)
	out = strings.TrimSpace(out)
	if err != nil {
		if out != "" {
			return Result{Message: out}, fmt.Errorf("%w: %v: %s", ErrPushRejected, err, out)
		}
		return Result{}, err
	}
	if isFailureOutput(out) {
		return Result{Message: out}, fmt.Errorf("%w: %s", ErrPushRejected, out)
	}
	if out == "" {
		out = "ok"
	}
	return Result{Message: out}, nil
}

// Probe checks that the runner works.
func (g *CommandGateway) Probe(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, g.timeout)
	defer cancel()
	return g.runner.Check(ctx)
}

// Close is a no-op; runners hold no long-lived connection.
func (g *CommandGateway) Close() error {
	return nil
}

// isFailureOutput recognizes RouterOS CLI errors, which exit with status
// zero.
func isFailureOutput(out string) bool {
	lower := strings.ToLower(out)
	for _, prefix := range []string{"failure:", "bad command", "syntax error", "expected end of command"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
