package procscan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Source produces one round of raw per-process accounting output.
type Source interface {
	Collect(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Collect implements Source.
func (f SourceFunc) Collect(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// CommandSource runs an external accounting tool once per Collect.
type CommandSource struct {
	path string
	args []string
}

// NewCommandSource parses a whitespace-separated command line.
func NewCommandSource(command string) (*CommandSource, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("accounting command is empty")
	}
	return &CommandSource{path: fields[0], args: fields[1:]}, nil
}

// String returns the command line.
func (s *CommandSource) String() string {
	return strings.Join(append([]string{s.path}, s.args...), " ")
}

// Collect runs the tool and returns its stdout. A non-zero exit still returns
// whatever the tool printed alongside the error. The context deadline kills
// the process.
func (s *CommandSource) Collect(ctx context.Context) ([]byte, error) {
	// #nosec G204 -- operator-configured command.
	cmd := exec.CommandContext(ctx, s.path, s.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run %s: %w", s.path, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			return stdout.Bytes(), fmt.Errorf("run %s: %w", s.path, err)
		}
		return nil, fmt.Errorf("start %s: %w", s.path, err)
	}
	return stdout.Bytes(), nil
}
