// Package supervisor implements nimi's PID-1 duties: spawning, monitoring,
// restarting, and tearing down the supervised services.
//
// Overview
//
// The Supervisor owns the process table (service id -> runtime state, pid ->
// service). All of it is mutated by the single Run loop goroutine, so no
// locks guard it. Everything else talks to the loop through channels:
//
//	Reaper                  Run loop                    shutdown fan-out
//	  |                        |                              |
//	  | ExitEvent ------------>| applies restart policy       |
//	  |                        | time.AfterFunc -> restartCh  |
//	  |                        | SIGTERM/SIGINT ------------->| one goroutine
//	  |                        |   per running service        | per service:
//	  | ExitEvent ------------>| closes svc.done ------------>| TERM, grace,
//	  |                        |                              | then KILL
//
// The Reaper multiplexes child-exit detection onto one SIGCHLD-driven
// Wait4(-1) drain, emitting exactly one ExitEvent per reaped process. Exit
// status never comes from exec.Cmd.Wait; the reaper would steal it. For the
// same reason the startup hook must finish before the Supervisor (and with
// it the reaper) starts, which the phase ordering in cmd/nimi guarantees.
//
// Invariants:
//   - At most one live OS process per service at any instant.
//   - A service's restart counter never decreases within a run.
//   - Per-service restart timers and grace periods are independent; one
//     service never delays observation of another.
//   - Run returns once every service is terminal with no pending restart.
package supervisor
