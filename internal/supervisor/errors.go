package supervisor

import "fmt"

// HookError reports a startup hook that could not be launched or exited
// non-zero. It is fatal: no service is started.
type HookError struct {
	Path string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("startup hook %s: %v", e.Path, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// SpawnError reports a service executable that could not be launched. It is
// scoped to that service only: the restart policy treats it as an immediate
// exit and siblings are unaffected.
type SpawnError struct {
	ID  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning service %s: %v", e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
