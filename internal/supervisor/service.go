package supervisor

import (
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/myypo/nimi/internal/model"
)

// State is the lifecycle phase of a supervised service.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateExited
	StateRestarting
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateRestarting:
		return "restarting"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further spawn can happen for this state.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// service is one entry in the process table. Every field is owned by the
// Run loop goroutine; the shutdown fan-out only ever sees pid and done as
// values captured inside the loop.
type service struct {
	id      string
	spec    model.ServiceSpec
	restart model.Restart // effective policy, override already resolved

	state    State
	pid      int
	restarts int // restarts scheduled so far, monotone for the run
	spawns   int // successful spawn attempts
	timer    *time.Timer
	done     chan struct{} // closed when the current process is reaped

	stdout, stderr *os.File
}

// spawn launches the service process in its own process group with output
// wired to the service's sinks. Children inherit nimi's environment. Exit
// status arrives through the reaper; cmd.Wait is never called, so the exec
// handle is released right away.
func (s *service) spawn() error {
	argv := s.spec.Process.Argv
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &SpawnError{ID: s.id, Err: err}
	}

	s.pid = cmd.Process.Pid
	s.spawns++
	s.state = StateRunning
	s.done = make(chan struct{})
	_ = cmd.Process.Release()
	return nil
}

type decision int

const (
	decideStop decision = iota
	decideRestart
	decideFail
)

// decide applies the restart policy to an exit. The exit code does not
// matter: a clean exit consumes restart budget exactly like a crash.
func decide(policy model.Restart, restarts int) decision {
	switch policy.Mode {
	case model.RestartAlways:
		return decideRestart
	case model.RestartUpToCount:
		if restarts < policy.Count {
			return decideRestart
		}
		return decideFail
	default: // model.RestartNever
		return decideStop
	}
}
