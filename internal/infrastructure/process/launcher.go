package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

type Config struct {
	// StopGrace is how long a terminated process tree gets before it is killed.
	StopGrace time.Duration
	Logger    *logger.Logger
}

type execLauncher struct {
	grace  time.Duration
	logger *logger.Logger
}

// NewLauncher starts recorders as local processes, each in its own process
// group so Kill reaches every helper the recorder spawned.
func NewLauncher(cfg Config) ports.ProcessLauncher {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	return &execLauncher{grace: cfg.StopGrace, logger: cfg.Logger}
}

func (l *execLauncher) Launch(spec ports.ProcessSpec) (ports.Process, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	configureProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	l.logger.Debugw("process_started", "binary", spec.Binary, "pid", cmd.Process.Pid)

	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		grace:  l.grace,
		logger: l.logger,
		done:   make(chan struct{}),
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	grace  time.Duration
	logger *logger.Logger

	done     chan struct{}
	doneOnce sync.Once
	killOnce sync.Once
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.doneOnce.Do(func() { close(p.done) })

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return p.cmd.ProcessState.ExitCode(), nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}

// Kill asks the whole tree to terminate and forces it after the grace period.
func (p *execProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		err = terminateTree(p.cmd.Process, false)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
			return
		}
		go p.forceAfterGrace()
	})
	return err
}

func (p *execProcess) forceAfterGrace() {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		if err := terminateTree(p.cmd.Process, true); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warnw("process_force_kill_failed", "pid", p.cmd.Process.Pid, "error", err)
			return
		}
		p.logger.Warnw("process_force_killed", "pid", p.cmd.Process.Pid, "grace", p.grace)
	}
}
