// Package term attaches real terminal processes to supervised sessions.
// Each attached process runs under a PTY; everything it prints flows into
// the session's capture buffer and out to any live subscribers.
package term

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/session"
)

var (
	ErrNotAttached = errors.New("no terminal attached to session")
	ErrClosed      = errors.New("terminal is closed")
)

// StartOptions control the attached process.
type StartOptions struct {
	Command    string
	Args       []string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
}

// proc is one attached PTY process.
type proc struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu      sync.RWMutex
	closed  bool
	subs    map[int]chan []byte
	nextSub int
}

// Runner owns the PTY processes behind supervised sessions.
type Runner struct {
	logger *logging.Logger
	procs  sync.Map // sessionID -> *proc

	// OnExit is invoked when an attached process terminates on its own.
	OnExit func(sessionID string)
}

// NewRunner creates a runner.
func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger}
}

// Attach starts the session's command under a PTY and begins pumping its
// output into the session buffer.
func (r *Runner) Attach(s *session.Session, opts StartOptions) error {
	if opts.Command == "" {
		opts.Command = os.Getenv("SHELL")
		if opts.Command == "" {
			opts.Command = "/bin/bash"
		}
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = os.Getenv("HOME")
		if opts.WorkingDir == "" {
			opts.WorkingDir = "/tmp"
		}
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(opts.Rows),
		Cols: uint16(opts.Cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	p := &proc{
		cmd:  cmd,
		ptmx: ptmx,
		subs: make(map[int]chan []byte),
	}
	r.procs.Store(s.ID, p)

	r.logger.Info("terminal attached",
		zap.String("session", s.ID),
		zap.String("command", opts.Command))

	go r.pump(s, p)
	go r.monitor(s.ID, p)

	return nil
}

// pump reads PTY output into the session buffer and fans it out to
// subscribers.
func (r *Runner) pump(s *session.Session, p *proc) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.Buffer.Append(chunk)
			p.broadcast(chunk)
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Debug("pty read ended",
					zap.String("session", s.ID),
					zap.Error(err))
			}
			return
		}
	}
}

// monitor reaps the process and closes the PTY when it exits.
func (r *Runner) monitor(sessionID string, p *proc) {
	p.cmd.Wait()

	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	p.ptmx.Close()
	for _, ch := range subs {
		close(ch)
	}

	if !alreadyClosed && r.OnExit != nil {
		r.OnExit(sessionID)
	}
}

func (p *proc) broadcast(chunk []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- chunk:
		default:
			// Slow subscriber; drop rather than stall the PTY pump.
		}
	}
}

func (r *Runner) lookup(sessionID string) (*proc, error) {
	value, ok := r.procs.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAttached, sessionID)
	}
	return value.(*proc), nil
}

// Write sends raw bytes to the session's terminal.
func (r *Runner) Write(sessionID string, input []byte) error {
	p, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrClosed, sessionID)
	}

	_, err = p.ptmx.Write(input)
	return err
}

// SendText types the given text into the terminal without a trailing
// return.
func (r *Runner) SendText(sessionID, text string) error {
	return r.Write(sessionID, []byte(text))
}

// SendReturn presses return as its own event.
func (r *Runner) SendReturn(sessionID string) error {
	return r.Write(sessionID, []byte("\r"))
}

// Subscribe registers a live output listener. The returned cancel func
// must be called when the listener goes away.
func (r *Runner) Subscribe(sessionID string) (<-chan []byte, func(), error) {
	p, err := r.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, fmt.Errorf("%w: %s", ErrClosed, sessionID)
	}

	id := p.nextSub
	p.nextSub++
	ch := make(chan []byte, 64)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Resize changes the PTY dimensions.
func (r *Runner) Resize(sessionID string, cols, rows int) error {
	p, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %s", ErrClosed, sessionID)
	}

	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Active reports whether the session has a live terminal.
func (r *Runner) Active(sessionID string) bool {
	p, err := r.lookup(sessionID)
	if err != nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Kill terminates the session's process and releases its PTY.
func (r *Runner) Kill(sessionID string) error {
	value, ok := r.procs.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, sessionID)
	}
	p := value.(*proc)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.ptmx.Close()
}
