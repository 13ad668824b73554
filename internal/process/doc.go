// Package process supervises the child processes a session owns: the
// virtual framebuffer server and the terminal emulator.
//
// Callers never see a bare PID. [Supervisor.Spawn] returns a [Handle] whose
// exit is tracked by a dedicated reaper goroutine, so liveness checks and
// termination are consistent regardless of how the process ends.
//
// # Termination
//
// [Supervisor.Terminate] follows a two-step escalation:
//
//  1. SIGTERM to the process group, then poll until the grace period ends
//  2. SIGKILL to the process group, then wait a bounded kill timeout
//
// A process that is still alive after step 2 yields a ReclaimFailed error.
// Terminating a process that already exited is a no-op.
//
// Children are started in their own process group so that a signal reaches
// the whole tree (the emulator and the command running inside it).
package process
