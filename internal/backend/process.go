package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/stellarlinkco/autoreply/internal/config"
	"github.com/stellarlinkco/autoreply/internal/responder"
)

// waitDelay bounds how long a killed script's children may hold its output open.
const waitDelay = 2 * time.Second

// Process runs an external script once per message:
//
//	command args... script <message> <contactName> <historyJSON>
//
// The reply is the script's trimmed stdout. A non-zero exit or blank output
// is an error carrying stderr.
type Process struct {
	command string
	args    []string
	script  string
}

func NewProcess(command string, args []string, script string) *Process {
	if command == "" {
		command = config.DefaultBackendCommand
	}
	return &Process{command: command, args: args, script: script}
}

func (p *Process) Generate(ctx context.Context, req responder.Request) (string, error) {
	if p.script != "" {
		if _, err := os.Stat(p.script); err != nil {
			return "", fmt.Errorf("%w: script %s: %v", ErrUnavailable, p.script, err)
		}
	}

	history := req.History
	if history == nil {
		history = []responder.ContextMessage{}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}

	args := append([]string(nil), p.args...)
	if p.script != "" {
		args = append(args, p.script)
	}
	args = append(args, req.Message, req.ContactName, string(payload))

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("run %s: %w: %s", p.command, err, msg)
		}
		return "", fmt.Errorf("run %s: %w", p.command, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", responder.ErrEmptyOutput, msg)
		}
		return "", responder.ErrEmptyOutput
	}
	return out, nil
}
