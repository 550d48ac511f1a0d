package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/multiclube/internal/config"
)

// DefaultCommandTimeout bounds a hook command when its entry sets none.
const DefaultCommandTimeout = 10 * time.Second

// CommandHandler returns a Handler that runs command through the shell
// with the event payload as JSON on stdin.
func CommandHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(cmd.Environ(), "MULTICLUBE_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", command, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", command, err)
		}
		return nil
	}
}

// RegisterConfigured attaches the command hooks from cfg to m. It returns
// the number of handlers registered.
func RegisterConfigured(m *Manager, cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventSaleCompleted: cfg.SaleCompleted,
		EventSaleTimedOut:  cfg.SaleTimedOut,
		EventSaleRejected:  cfg.SaleRejected,
		EventServerStart:   cfg.ServerStart,
		EventServerStop:    cfg.ServerStop,
	}

	n := 0
	for event, entries := range byEvent {
		for i, e := range entries {
			name := fmt.Sprintf("config:%s[%d]", event, i)
			m.On(event, name, CommandHandler(e.Command, time.Duration(e.Timeout)*time.Millisecond))
			n++
		}
	}
	return n
}
