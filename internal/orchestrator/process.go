package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/alejandrodnm/snipebot/internal/ports"
)

// stopGrace es lo que un hijo tiene para salir tras SIGTERM antes del kill.
const stopGrace = 5 * time.Second

// process es un agente hijo supervisado.
type process struct {
	name string

	mu       sync.Mutex
	pid      int
	running  bool
	restarts int
}

func (p *process) status() ports.AgentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ports.AgentStatus{Name: p.name, PID: p.pid, Running: p.running, Restarts: p.restarts}
}

func (p *process) set(pid int, running bool) {
	p.mu.Lock()
	p.pid = pid
	p.running = running
	p.mu.Unlock()
}

// supervise lanza el agente y lo relanza si sale mientras ctx sigue vivo.
// Al cancelar ctx el hijo recibe SIGTERM.
func (o *Orchestrator) supervise(ctx context.Context, p *process) {
	for {
		err := o.runOnce(ctx, p)
		if ctx.Err() != nil {
			return
		}

		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			slog.Warn("agent exited, restarting", "agent", p.name, "code", exitErr.ExitCode(), "delay", o.cfg.RestartDelay)
		case err != nil:
			slog.Error("agent failed to start, retrying", "agent", p.name, "err", err, "delay", o.cfg.RestartDelay)
		default:
			slog.Warn("agent exited cleanly but unexpectedly, restarting", "agent", p.name)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.RestartDelay):
		}
		p.mu.Lock()
		p.restarts++
		p.mu.Unlock()
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, p *process) error {
	args := append(append([]string{}, o.cfg.Args...), p.name)
	cmd := exec.CommandContext(ctx, o.cfg.Executable, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace

	out := o.logs.Writer("[" + p.name + "] ")
	defer out.Flush()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return err
	}
	p.set(cmd.Process.Pid, true)
	slog.Info("agent started", "agent", p.name, "pid", cmd.Process.Pid)

	err := cmd.Wait()
	p.set(0, false)
	return err
}
