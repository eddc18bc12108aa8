package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// RunLines reads one command per line from r until EOF or exit. Commands
// run synchronously; their outcome is written to w.
func RunLines(ctx context.Context, r io.Reader, w io.Writer, shell *Shell) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if out, exit, ok := shell.System(line); ok {
			if exit {
				return nil
			}
			fmt.Fprintln(w, out)
			continue
		}

		run, err := shell.backend.Submit(ctx, line)
		fmt.Fprintln(w, RenderRun(run, err))
	}
	return scanner.Err()
}
