package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
)

// Refresher is the coordinated renewal entry point.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// CredentialSource reads the persisted pair.
type CredentialSource interface {
	Load(ctx context.Context) (session.Credentials, bool)
}

// SchedulerOptions configures a [Scheduler].
type SchedulerOptions struct {
	Refresher Refresher
	Source    CredentialSource
	// Interval between checks. Zero means one minute.
	Interval time.Duration
	// LowWaterMark is the remaining lifetime below which a renewal starts.
	// Zero means five minutes.
	LowWaterMark time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
	// OnTick reports every check performed while running.
	OnTick func(triggered bool)
}

// Scheduler triggers proactive renewal. Start and Stop are idempotent; a
// stopped scheduler can be started again for the next session.
type Scheduler struct {
	refresher    Refresher
	source       CredentialSource
	interval     time.Duration
	lowWaterMark time.Duration
	logger       *slog.Logger
	now          func() time.Time
	onTick       func(bool)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Refresher == nil || opts.Source == nil {
		return nil, errors.New("refresh: scheduler needs a refresher and a credential source")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LowWaterMark <= 0 {
		opts.LowWaterMark = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		refresher:    opts.Refresher,
		source:       opts.Source,
		interval:     opts.Interval,
		lowWaterMark: opts.LowWaterMark,
		logger:       opts.Logger,
		now:          opts.Now,
		onTick:       opts.OnTick,
	}, nil
}

// Start launches the ticker goroutine unless it is already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-progress check to return. After
// Stop returns no further check can start a renewal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether Start was called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Tick performs one check and reports whether it triggered a renewal. It does
// nothing while the scheduler is stopped.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.Running() {
		return false
	}

	creds, ok := s.source.Load(ctx)
	if !ok || creds.AccessToken == "" {
		s.report(false)
		return false
	}
	remaining := token.Remaining(creds.AccessToken, s.now())
	if remaining <= 0 || remaining >= s.lowWaterMark {
		s.report(false)
		return false
	}

	s.report(true)
	if _, err := s.refresher.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("goAuthClient: proactive renewal failed", "remaining", remaining, "error", err)
	}
	return true
}

func (s *Scheduler) report(triggered bool) {
	if s.onTick != nil {
		s.onTick(triggered)
	}
}
