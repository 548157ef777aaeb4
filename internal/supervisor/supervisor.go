// Package supervisor implements the Process Supervisor: it manages named
// worker processes (local fork/exec or remote via a persistent
// remote-shell), persists their PIDs so a restarted supervisor can adopt
// them, probes health, and restarts failed processes on an
// exponential-backoff schedule. Grounded on the original's
// ProcessManager/ProcessInfo (start_all_processes, check_process_health,
// get_backoff_delay, restart_process) and on the teacher's
// internal/worker/pool.go single-mutex state-machine shape.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/metrics"
	"qaorchestrator/internal/remoteshell"
	"qaorchestrator/internal/storage"
)

// ProcessSpec describes one supervised process, sourced from the
// processes.<name> configuration section.
type ProcessSpec struct {
	Name           string
	Command        string // local: shell command; remote: remote_command
	Remote         bool
	Host           string
	RestartBase    time.Duration
	RestartCap     time.Duration
	MaxRestarts    int
	HealthInterval time.Duration
}

type procState struct {
	spec ProcessSpec

	pid                int
	running            bool
	restartCount       int
	consecutiveFailures int
	lastRestart        time.Time
	permanentlyFailed  bool
}

// Supervisor manages the lifecycle of every configured process. All
// mutating operations run under one mutex (the "preferred" re-entrant
// design named in spec.md §9); restart is composed from unlocked helpers
// so it never calls back into a locking entrypoint.
type Supervisor struct {
	store *storage.Store
	local remoteshell.Shell
	remote remoteshell.Shell

	mu        sync.Mutex
	processes map[string]*procState

	log zerolog.Logger
}

func New(store *storage.Store, local remoteshell.Shell, remote remoteshell.Shell, specs []ProcessSpec) *Supervisor {
	procs := make(map[string]*procState, len(specs))
	for _, spec := range specs {
		if spec.RestartBase == 0 {
			spec.RestartBase = 30 * time.Second
		}
		if spec.RestartCap == 0 {
			spec.RestartCap = 900 * time.Second
		}
		if spec.MaxRestarts == 0 {
			spec.MaxRestarts = 10
		}
		procs[spec.Name] = &procState{spec: spec}
	}
	return &Supervisor{
		store:     store,
		local:     local,
		remote:    remote,
		processes: procs,
		log:       logger.WithComponent("supervisor"),
	}
}

func (s *Supervisor) shellFor(spec ProcessSpec) remoteshell.Shell {
	if spec.Remote {
		return s.remote
	}
	return s.local
}

// Adopt loads persisted ProcessStatus rows at startup so a restarted
// supervisor doesn't double-spawn processes that are still running.
func (s *Supervisor) Adopt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.ListProcessStatuses(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		ps, ok := s.processes[row.Name]
		if !ok {
			continue
		}
		alive, _ := s.shellFor(ps.spec).Probe(ctx, row.PID)
		if alive {
			ps.pid = row.PID
			ps.running = true
			ps.restartCount = row.RestartCount
			metrics.SetProcessRunning(row.Name, true)
			s.log.Info().Str("process", row.Name).Int("pid", row.PID).Msg("adopted running process")
		}
	}
	return nil
}

// StartAll starts every configured process that isn't already running,
// mirroring start_all_processes.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ps := range s.processes {
		if ps.running {
			continue
		}
		s.start(ctx, name, ps)
	}
}

func (s *Supervisor) start(ctx context.Context, name string, ps *procState) {
	pid, err := s.shellFor(ps.spec).StartDetached(ctx, ps.spec.Command)
	if err != nil {
		s.log.Error().Err(err).Str("process", name).Msg("failed to start process")
		ps.running = false
		metrics.SetProcessRunning(name, false)
		return
	}
	ps.pid = pid
	ps.running = true
	metrics.SetProcessRunning(name, true)
	s.log.Info().Str("process", name).Int("pid", pid).Msg("started process")

	host := ps.spec.Host
	_ = s.store.UpsertProcessStatus(ctx, &storage.ProcessStatus{
		Name:         name,
		PID:          pid,
		Remote:       ps.spec.Remote,
		Host:         optionalString(host),
		Status:       "running",
		RestartCount: ps.restartCount,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StopAll gracefully stops every running process: SIGTERM, wait up to
// 10 seconds as a grace period, then SIGKILL.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ps := range s.processes {
		if ps.running {
			s.stop(ctx, name, ps, 10*time.Second)
		}
	}
}

func (s *Supervisor) stop(ctx context.Context, name string, ps *procState, timeout time.Duration) {
	shell := s.shellFor(ps.spec)
	s.log.Info().Str("process", name).Int("pid", ps.pid).Msg("stopping process")

	_ = shell.Signal(ctx, ps.pid, "TERM")

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		alive, _ := shell.Probe(ctx, ps.pid)
		if !alive {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if alive, _ := shell.Probe(ctx, ps.pid); alive {
		s.log.Warn().Str("process", name).Msg("did not respond to SIGTERM, forcing kill")
		_ = shell.Signal(ctx, ps.pid, "KILL")
	}

	ps.running = false
	ps.pid = 0
	metrics.SetProcessRunning(name, false)
	_ = s.store.UpsertProcessStatus(ctx, &storage.ProcessStatus{
		Name:         name,
		PID:          0,
		Remote:       ps.spec.Remote,
		Status:       "stopped",
		RestartCount: ps.restartCount,
	})
}

// restartLocked stops (if running) and starts name, incrementing its
// restart counter. Composed from the unlocked start/stop helpers so it can
// be called from within HealthProbe, which already holds the lock.
func (s *Supervisor) restartLocked(ctx context.Context, name string, ps *procState) {
	if ps.running {
		s.stop(ctx, name, ps, 10*time.Second)
	}
	s.start(ctx, name, ps)
	ps.restartCount++
	ps.lastRestart = time.Now()
	metrics.RecordProcessRestart(name)
}

// Restart is the public, lock-acquiring entrypoint for an operator-driven
// restart.
func (s *Supervisor) Restart(ctx context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.processes[name]
	if !ok {
		return false
	}
	s.restartLocked(ctx, name, ps)
	return true
}

// backoffDelay computes min(base * 2^min(failures,6), cap), the exact
// formula named in spec.md §4.4 and grounded on ProcessInfo.get_backoff_delay.
func backoffDelay(base, cap time.Duration, consecutiveFailures int) time.Duration {
	shift := consecutiveFailures
	if shift > 6 {
		shift = 6
	}
	delay := base * time.Duration(1<<uint(shift))
	if delay > cap {
		return cap
	}
	return delay
}

// HealthProbe checks every running process's liveness and restarts any
// that have died, honoring the backoff schedule and the max-restarts
// permanent-failure cutoff. Mirrors check_process_health.
func (s *Supervisor) HealthProbe(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ps := range s.processes {
		// Skip processes that failed for good, and stopped or never-started
		// ones (pid 0); a dead one still waiting out its backoff is revisited.
		if ps.permanentlyFailed || (!ps.running && ps.pid == 0) {
			continue
		}
		if ps.running {
			alive, _ := s.shellFor(ps.spec).Probe(ctx, ps.pid)
			if alive {
				if ps.consecutiveFailures > 0 {
					s.log.Info().Str("process", name).Msg("process healthy again, resetting failure count")
					ps.consecutiveFailures = 0
				}
				continue
			}

			ps.running = false
			ps.consecutiveFailures++
			s.log.Warn().Str("process", name).Int("consecutive_failures", ps.consecutiveFailures).Msg("process is no longer running")

			if ps.consecutiveFailures >= ps.spec.MaxRestarts {
				ps.permanentlyFailed = true
				s.log.Error().Str("process", name).Int("consecutive_failures", ps.consecutiveFailures).Msg("exceeded maximum restart attempts, marking permanently failed")
				continue
			}
		}

		delay := backoffDelay(ps.spec.RestartBase, ps.spec.RestartCap, ps.consecutiveFailures-1)
		if ps.lastRestart.IsZero() || time.Since(ps.lastRestart) > delay {
			s.log.Info().Str("process", name).Dur("backoff", delay).Msg("restarting failed process")
			s.restartLocked(ctx, name, ps)
		}
	}
}

// Status returns a point-in-time snapshot for the read-only status API.
type Status struct {
	Name                string
	Running             bool
	PID                 int
	RestartCount        int
	ConsecutiveFailures int
	PermanentlyFailed   bool
}

func (s *Supervisor) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.processes))
	for name, ps := range s.processes {
		out = append(out, Status{
			Name:                name,
			Running:             ps.running,
			PID:                 ps.pid,
			RestartCount:        ps.restartCount,
			ConsecutiveFailures: ps.consecutiveFailures,
			PermanentlyFailed:   ps.permanentlyFailed,
		})
	}
	return out
}
