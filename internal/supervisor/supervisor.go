package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"vawter.tech/stopper"

	"github.com/myypo/nimi/internal/logsink"
	"github.com/myypo/nimi/internal/model"
)

// reaperStopGrace bounds how long Run waits for the reaper goroutine after
// the event loop has finished.
const reaperStopGrace = time.Second

// Supervisor spawns each declared service, monitors and restarts them
// independently, and drives the ordered shutdown when a termination request
// arrives.
type Supervisor struct {
	settings model.Settings
	sinks    *logsink.Manager

	order    []string
	services map[string]*service
	byPID    map[int]*service

	restartCh chan string
	down      bool
}

// Status is a read-only snapshot of one service's runtime state.
type Status struct {
	State    State
	Restarts int
	Spawns   int
}

// New builds a supervisor over the descriptor's services. Sinks are handed
// out once per service and reused across its restarts.
func New(desc *model.Descriptor, sinks *logsink.Manager) *Supervisor {
	s := &Supervisor{
		settings:  desc.Settings,
		sinks:     sinks,
		order:     desc.ServiceIDs(),
		services:  make(map[string]*service, len(desc.Services)),
		byPID:     make(map[int]*service),
		restartCh: make(chan string, len(desc.Services)+1),
	}
	for _, id := range s.order {
		spec := desc.Services[id]
		s.services[id] = &service{
			id:      id,
			spec:    spec,
			restart: spec.EffectiveRestart(desc.Settings.Restart),
			state:   StateIdle,
		}
	}
	return s
}

// Run spawns the services in configuration order and supervises them until
// every service is terminal with no pending restart, or until a termination
// request (SIGTERM, SIGINT, or context cancellation) has been honored. The
// returned error reflects the aggregate outcome: non-nil when any service
// exhausted its restart budget.
func (s *Supervisor) Run(ctx context.Context) error {
	// The reaper must keep draining children through shutdown even when the
	// caller's context is what triggered it, so it gets an uncancelable one.
	sctx := stopper.WithContext(context.WithoutCancel(ctx))
	defer func() {
		sctx.Stop(reaperStopGrace)
		_ = sctx.Wait()
	}()

	reaper := NewReaper()
	sctx.Go(reaper.Run)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(stop)

	// PID 1 must not die on stray signals; children handle their own
	// through their process groups.
	ignored := make(chan os.Signal, 1)
	signal.Notify(ignored, unix.SIGHUP, unix.SIGQUIT, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(ignored)

	for _, id := range s.order {
		svc := s.services[id]
		svc.stdout, svc.stderr = s.sinks.Sink(id)
		s.start(ctx, svc)
	}

	var g errgroup.Group
	ctxDone := ctx.Done()

	for !s.settled() {
		select {
		case ev := <-reaper.Events():
			s.handleExit(ctx, ev)
		case id := <-s.restartCh:
			s.handleRestart(ctx, id)
		case sig := <-stop:
			slog.InfoContext(ctx, "termination requested", "signal", sig.String())
			s.beginShutdown(ctx, &g)
		case sig := <-ignored:
			slog.DebugContext(ctx, "ignoring signal", "signal", sig.String())
		case <-ctxDone:
			ctxDone = nil
			slog.InfoContext(ctx, "context canceled, shutting down")
			s.beginShutdown(ctx, &g)
		}
	}

	if err := g.Wait(); err != nil {
		slog.WarnContext(ctx, "shutdown fan-out reported", "error", err)
	}
	return s.outcome()
}

// Statuses returns a snapshot per service id. Only safe once Run has
// returned.
func (s *Supervisor) Statuses() map[string]Status {
	out := make(map[string]Status, len(s.services))
	for id, svc := range s.services {
		out[id] = Status{State: svc.state, Restarts: svc.restarts, Spawns: svc.spawns}
	}
	return out
}

// start spawns one service. A spawn failure counts as an immediate exit for
// the restart policy and never affects siblings.
func (s *Supervisor) start(ctx context.Context, svc *service) {
	svc.state = StateStarting
	if err := svc.spawn(); err != nil {
		slog.ErrorContext(ctx, "spawning service failed", "service", svc.id, "error", err)
		svc.state = StateExited
		if s.down {
			svc.state = StateTerminated
			return
		}
		s.applyPolicy(ctx, svc)
		return
	}
	s.byPID[svc.pid] = svc
	slog.InfoContext(ctx, "service started", "service", svc.id, "pid", svc.pid, "spawn", svc.spawns)
}

func (s *Supervisor) handleExit(ctx context.Context, ev ExitEvent) {
	svc, ok := s.byPID[ev.PID]
	if !ok {
		// A descendant reparented onto nimi; reaping it was the whole duty.
		slog.DebugContext(ctx, "reaped unsupervised process", "pid", ev.PID, "code", ev.ExitCode())
		return
	}
	delete(s.byPID, ev.PID)
	svc.pid = 0
	svc.state = StateExited
	close(svc.done)

	logExit(ctx, svc.id, ev)

	if s.down {
		svc.state = StateTerminated
		return
	}
	s.applyPolicy(ctx, svc)
}

func logExit(ctx context.Context, id string, ev ExitEvent) {
	if ev.Status.Signaled() {
		slog.InfoContext(ctx, "service exited on signal",
			"service", id, "pid", ev.PID, "signal", unix.SignalName(ev.Status.Signal()))
		return
	}
	if code := ev.Status.ExitStatus(); code != 0 {
		slog.WarnContext(ctx, "service exited", "service", id, "pid", ev.PID, "code", code)
	} else {
		slog.InfoContext(ctx, "service exited", "service", id, "pid", ev.PID, "code", 0)
	}
}

func (s *Supervisor) applyPolicy(ctx context.Context, svc *service) {
	switch decide(svc.restart, svc.restarts) {
	case decideStop:
		svc.state = StateTerminated
		slog.InfoContext(ctx, "service will not be restarted",
			"service", svc.id, "mode", svc.restart.Mode)
	case decideFail:
		svc.state = StateFailed
		slog.WarnContext(ctx, "restart budget exhausted",
			"service", svc.id, "restarts", svc.restarts, "count", svc.restart.Count)
	case decideRestart:
		svc.restarts++
		svc.state = StateRestarting
		delay := svc.restart.Delay()
		slog.InfoContext(ctx, "restart scheduled",
			"service", svc.id, "delay", delay, "restarts", svc.restarts)
		id := svc.id
		// restartCh holds one slot per service, so a fired timer never
		// blocks even if the loop has already moved on.
		svc.timer = time.AfterFunc(delay, func() { s.restartCh <- id })
	}
}

func (s *Supervisor) handleRestart(ctx context.Context, id string) {
	svc := s.services[id]
	if svc == nil || s.down || svc.state != StateRestarting {
		return
	}
	s.start(ctx, svc)
}

// beginShutdown flips the shutdown flag, cancels pending restarts, and
// launches one goroutine per still-running service so all grace periods
// elapse concurrently: total shutdown latency is one grace period, not N.
func (s *Supervisor) beginShutdown(ctx context.Context, g *errgroup.Group) {
	if s.down {
		return
	}
	s.down = true
	grace := s.settings.Shutdown.GraceDelay()

	for _, id := range s.order {
		svc := s.services[id]
		switch svc.state {
		case StateRestarting:
			if svc.timer != nil {
				svc.timer.Stop()
			}
			svc.state = StateTerminated
			slog.InfoContext(ctx, "pending restart canceled", "service", id)
		case StateRunning:
			pid, done := svc.pid, svc.done
			g.Go(func() error {
				return stopProcess(ctx, id, pid, done, grace)
			})
		}
	}
}

// stopProcess asks one process group to exit voluntarily and escalates to
// SIGKILL for that process only once its grace period expires. done is
// closed by the Run loop when the reaper delivers the exit.
func stopProcess(ctx context.Context, id string, pid int, done <-chan struct{}, grace time.Duration) error {
	slog.InfoContext(ctx, "stopping service", "service", id, "pid", pid, "grace", grace)
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		slog.WarnContext(ctx, "sending SIGTERM failed", "service", id, "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		slog.WarnContext(ctx, "grace period expired, killing", "service", id, "pid", pid)
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			return fmt.Errorf("killing service %s (pid %d): %w", id, pid, err)
		}
		<-done
		return nil
	}
}

// settled reports whether the run is complete: every service terminal with
// no pending restart.
func (s *Supervisor) settled() bool {
	for _, svc := range s.services {
		if !svc.state.Terminal() {
			return false
		}
	}
	return true
}

// outcome folds terminal states into the run result. Exhausting a restart
// budget is an error; terminating on policy or on request is not.
func (s *Supervisor) outcome() error {
	failed := 0
	for _, svc := range s.services {
		if svc.state == StateFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d service(s) exhausted their restart budget", failed)
	}
	return nil
}
