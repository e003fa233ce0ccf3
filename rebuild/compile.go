package rebuild

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandCompiler shells out to the project's build tool (cargo, zig, make)
// in the project directory. Stderr is captured and surfaced on failure so
// compiler diagnostics reach the peers unmodified.
type CommandCompiler struct {
	Dir  string
	Name string
	Args []string
}

func (c CommandCompiler) Compile(ctx context.Context) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("compile aborted: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s failed: %s", c.Name, msg)
	}
	return nil
}
