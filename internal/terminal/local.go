package terminal

import (
	"context"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// localWriter wraps a pty master fd as a Writer.
type localWriter struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (w *localWriter) Write(p []byte) (int, error) { return w.ptmx.Write(p) }

func (w *localWriter) Resize(cols, rows int) error {
	return pty.Setsize(w.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (w *localWriter) Close() error {
	err := w.ptmx.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	return err
}

// NewLocal starts shell under a PTY (via github.com/creack/pty) and returns
// a Session multiplexing it. cwd/env may be empty/nil to inherit the
// caller's.
func NewLocal(ctx context.Context, shell string, cwd string, env []string) (*Session, error) {
	if shell == "" {
		shell = "/bin/bash"
	}
	cmd := exec.CommandContext(ctx, shell)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if env != nil {
		cmd.Env = env
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Cols: 80, Rows: 24})

	output := make(chan []byte, 256)
	go func() {
		defer close(output)
		buf := make([]byte, 32*1024)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				output <- chunk
			}
			if err != nil {
				// A non-EOF read error (e.g. the pty master closing under
				// us) is handled identically to EOF: the output channel
				// closes and the Session's listener sees that directly.
				return
			}
		}
	}()

	return New(&localWriter{cmd: cmd, ptmx: ptmx}, output), nil
}
