package terminal

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// RemoteConfig describes the SSH target for an agent-driven remote shell.
// No pack example exercises golang.org/x/crypto/ssh directly; this follows
// the ecosystem's standard client/session/PTY request sequence, mirrored
// from the same shape the local PTY transport uses.
type RemoteConfig struct {
	Addr            string
	User            string
	Signer          ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
}

type remoteWriter struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   chanWriteCloser
}

// chanWriteCloser is implemented by the io.WriteCloser ssh.Session.StdinPipe returns.
type chanWriteCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

func (w *remoteWriter) Write(p []byte) (int, error) { return w.stdin.Write(p) }

func (w *remoteWriter) Resize(cols, rows int) error {
	return w.session.WindowChange(rows, cols)
}

func (w *remoteWriter) Close() error {
	_ = w.session.Close()
	return w.client.Close()
}

// NewRemote dials cfg.Addr, opens an interactive PTY shell session over
// SSH, and returns a Session multiplexing it identically to a local one.
func NewRemote(ctx context.Context, cfg RemoteConfig) (*Session, error) {
	hostKeyCB := cfg.HostKeyCallback
	if hostKeyCB == nil {
		return nil, fmt.Errorf("terminal: RemoteConfig.HostKeyCallback is required")
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(cfg.Signer)},
		HostKeyCallback: hostKeyCB,
	}

	client, err := ssh.Dial("tcp", cfg.Addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("terminal: ssh dial %s: %w", cfg.Addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("terminal: ssh new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("terminal: request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, err
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("terminal: start shell: %w", err)
	}

	output := make(chan []byte, 256)
	go func() {
		defer close(output)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				output <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
		_ = client.Close()
	}()

	return New(&remoteWriter{client: client, session: session, stdin: stdin}, output), nil
}
