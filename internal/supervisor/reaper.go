package supervisor

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"vawter.tech/stopper"
)

// ExitEvent is the terminal notification for one OS process. The reaper
// emits exactly one per distinct pid it reaps.
type ExitEvent struct {
	PID    int
	Status unix.WaitStatus
}

// ExitCode folds the wait status into a single code: the exit status for a
// normal exit, 128+signal for a signal death.
func (e ExitEvent) ExitCode() int {
	switch {
	case e.Status.Exited():
		return e.Status.ExitStatus()
	case e.Status.Signaled():
		return 128 + int(e.Status.Signal())
	}
	return -1
}

// Reaper fulfills the PID-1 wait duty: it collects every descendant that
// exits, including processes reparented onto nimi by orphaning elsewhere in
// the namespace, so no zombies accumulate.
type Reaper struct {
	events chan ExitEvent
	chld   chan os.Signal
}

// NewReaper installs the SIGCHLD subscription immediately so no exit
// between construction and Run is missed.
func NewReaper() *Reaper {
	r := &Reaper{
		events: make(chan ExitEvent, 64),
		chld:   make(chan os.Signal, 1),
	}
	signal.Notify(r.chld, unix.SIGCHLD)
	return r
}

// Events delivers one event per reaped process, in reap order.
func (r *Reaper) Events() <-chan ExitEvent {
	return r.events
}

// Run blocks until stopped. SIGCHLD coalesces under bursts, so every wakeup
// drains all currently exited children before waiting again; that is what
// makes the one-notification-per-process guarantee hold.
func (r *Reaper) Run(sctx *stopper.Context) error {
	defer signal.Stop(r.chld)

	// Children may already have exited before the subscription fired.
	r.drain(sctx)

	for {
		select {
		case <-sctx.Stopping():
			return nil
		case <-r.chld:
			r.drain(sctx)
		}
	}
}

func (r *Reaper) drain(sctx *stopper.Context) {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			// ECHILD: no children at all. pid 0: children exist but
			// none has exited yet.
			return
		}

		select {
		case r.events <- ExitEvent{PID: pid, Status: status}:
		case <-sctx.Stopping():
			return
		}
	}
}
