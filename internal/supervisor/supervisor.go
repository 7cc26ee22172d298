// Package supervisor keeps one worker process alive during trading
// sessions: it starts the child, restarts it with exponential backoff
// when it dies, and stops it outside the configured sessions.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/quantfisher/voltrader/internal/config"
	"github.com/quantfisher/voltrader/internal/metrics"
)

const (
	defaultBaseDelay = 5 * time.Second
	defaultMaxDelay  = 300 * time.Second
	defaultMaxCount  = 10
	defaultResetHrs  = 1.0

	pollInterval  = 2 * time.Second
	statsInterval = 60 * time.Second
	stopGrace     = 30 * time.Second
)

// Supervisor runs and watches one child worker process
type Supervisor struct {
	cfg    config.RuntimeConfig
	binary string
	args   []string
	log    zerolog.Logger

	mu          sync.Mutex
	child       *exec.Cmd
	childExit   chan error
	startedAt   time.Time
	restarts    int
	nextRestart time.Time

	restartReq chan struct{}
}

// New builds a supervisor that will run binary with args as the child
func New(cfg config.RuntimeConfig, binary string, args []string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		binary:     binary,
		args:       args,
		log:        log.With().Str("component", "supervisor").Logger(),
		restartReq: make(chan struct{}, 1),
	}
}

// RequestRestart asks for a child restart at the next poll, used for
// SIGHUP handling.
func (s *Supervisor) RequestRestart() {
	select {
	case s.restartReq <- struct{}{}:
	default:
	}
}

// Run supervises until ctx is cancelled or the restart budget is spent.
// The child runs only inside the configured trading sessions; with no
// sessions configured it runs around the clock.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopChild("shutdown")
			return nil

		case <-s.restartReq:
			s.log.Info().Msg("Restart requested")
			s.stopChild("restart request")

		case err := <-s.childExitChan():
			if handled := s.onChildExit(err); !handled {
				return fmt.Errorf("worker failed %d times in a row, giving up", s.restarts)
			}

		case <-stats.C:
			s.logChildStats()

		case now := <-ticker.C:
			if s.inSession(now) {
				if err := s.ensureRunning(now); err != nil {
					return err
				}
			} else {
				s.stopChild("outside trading session")
			}
		}
	}
}

// childExitChan returns the live exit channel, or a never-firing one
// when no child is running.
func (s *Supervisor) childExitChan() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.childExit != nil {
		return s.childExit
	}
	return make(chan error)
}

func (s *Supervisor) inSession(now time.Time) bool {
	if len(s.cfg.TradingPeriods) == 0 {
		return true
	}
	for _, p := range s.cfg.TradingPeriods {
		if p.Contains(now) {
			return true
		}
	}
	return false
}

// ensureRunning starts the child if it is down and its backoff delay
// has elapsed.
func (s *Supervisor) ensureRunning(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.child != nil {
		// A long stretch of uptime clears the failure streak
		resetAfter := s.cfg.ResetAfterHours
		if resetAfter <= 0 {
			resetAfter = defaultResetHrs
		}
		if s.restarts > 0 && now.Sub(s.startedAt) >= time.Duration(resetAfter*float64(time.Hour)) {
			s.log.Info().Msg("Worker stable, restart counter reset")
			s.restarts = 0
		}
		return nil
	}
	if now.Before(s.nextRestart) {
		return nil
	}

	cmd := exec.Command(s.binary, s.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	s.child = cmd
	s.startedAt = now
	s.childExit = make(chan error, 1)
	go func(c *exec.Cmd, exit chan<- error) {
		exit <- c.Wait()
	}(cmd, s.childExit)

	s.log.Info().Int("pid", cmd.Process.Pid).Msg("Worker started")
	return nil
}

// onChildExit applies the backoff policy. Returns false when the
// restart budget is exhausted.
func (s *Supervisor) onChildExit(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.child = nil
	s.childExit = nil
	s.restarts++
	metrics.WorkerRestarts.Inc()

	maxCount := s.cfg.MaxRestartCount
	if maxCount <= 0 {
		maxCount = defaultMaxCount
	}
	if s.restarts > maxCount {
		s.log.Error().Err(err).Int("restarts", s.restarts-1).Msg("Worker restart budget exhausted")
		return false
	}

	delay := s.backoffDelay()
	s.nextRestart = time.Now().Add(delay)
	s.log.Warn().
		Err(err).
		Int("restart", s.restarts).
		Dur("delay", delay).
		Msg("Worker exited, restarting after backoff")
	return true
}

// backoffDelay doubles per consecutive failure, clamped to the maximum
func (s *Supervisor) backoffDelay() time.Duration {
	base := time.Duration(s.cfg.RestartBaseSec * float64(time.Second))
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := time.Duration(s.cfg.RestartMaxSec * float64(time.Second))
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	delay := base
	for i := 1; i < s.restarts; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// stopChild terminates the child gracefully, escalating to SIGKILL
// after the grace period.
func (s *Supervisor) stopChild(reason string) {
	s.mu.Lock()
	cmd := s.child
	exit := s.childExit
	s.child = nil
	s.childExit = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	s.log.Info().Int("pid", cmd.Process.Pid).Str("reason", reason).Msg("Stopping worker")

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exit:
	case <-time.After(stopGrace):
		s.log.Warn().Msg("Worker did not stop in time, killing")
		_ = cmd.Process.Kill()
		<-exit
	}
}

// logChildStats samples the child's resource usage via gopsutil
func (s *Supervisor) logChildStats() {
	s.mu.Lock()
	cmd := s.child
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return
	}
	cpu, _ := proc.CPUPercent()
	ev := s.log.Info().Int("pid", cmd.Process.Pid).Float64("cpu_percent", cpu)
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		ev = ev.Uint64("rss_bytes", mem.RSS)
	}
	ev.Msg("Worker resource usage")
}

// ChildRunning reports whether a child process is currently up
func (s *Supervisor) ChildRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}
