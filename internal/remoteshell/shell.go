// Package remoteshell defines the interface the Process Supervisor uses
// to spawn and probe processes on the remote HPC host, and two
// implementations: a local os/exec shell and a persistent SSH session.
// Per spec.md §1, the concrete SSH transport is an external-collaborator
// concern; this package gives the core a small, testable seam onto it.
package remoteshell

import "context"

// Shell is the contract the Process Supervisor depends on. Local and
// remote processes are both managed through it, so supervisor.go never
// branches on local-vs-remote beyond choosing which Shell to use.
type Shell interface {
	// StartDetached launches command in the background and returns its
	// PID, surviving the caller's own process exit (the persistent
	// remote-shell session equivalent of `nohup command & echo $!`).
	StartDetached(ctx context.Context, command string) (pid int, err error)

	// Probe reports whether pid is still alive.
	Probe(ctx context.Context, pid int) (alive bool, err error)

	// Signal sends signal (by name: "TERM" or "KILL") to pid.
	Signal(ctx context.Context, pid int, signal string) error

	// RunAndWait runs command to completion and returns its captured
	// stdout, used by worker commands that need the result synchronously
	// rather than a detached, supervised PID.
	RunAndWait(ctx context.Context, command string) (string, error)

	Close() error
}
