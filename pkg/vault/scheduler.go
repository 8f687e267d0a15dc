package vault

import (
	"context"
	"time"

	"github.com/stacklok/toolgate/pkg/logger"
)

// DefaultSchedulerInterval is how often the scheduler scans for due
// rotations.
const DefaultSchedulerInterval = time.Minute

// NotifyFunc is invoked ahead of an automatic rotation so operators can
// be warned before a credential changes.
type NotifyFunc func(record *Record, due time.Time)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Interval is the scan cadence. Default: one minute.
	Interval time.Duration

	// PreRotationNotice, when non-zero, invokes Notify this long before a
	// rotation is due.
	PreRotationNotice time.Duration

	// Notify receives pre-rotation notifications.
	Notify NotifyFunc
}

// Scheduler performs automatic credential rotation. It scans the store
// rather than holding per-record timers, so rotation schedules survive
// process restarts: the due time lives in each record's NextRotation
// field and execution is idempotent against it.
type Scheduler struct {
	vault    *Vault
	interval time.Duration
	notice   time.Duration
	notify   NotifyFunc

	notified map[string]bool
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a Scheduler for the vault.
func NewScheduler(v *Vault, config SchedulerConfig) *Scheduler {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		vault:    v,
		interval: interval,
		notice:   config.PreRotationNotice,
		notify:   config.Notify,
		notified: make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the scan loop until Stop is called or the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

// Stop terminates the scan loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// scan rotates every record whose NextRotation has passed and emits
// pre-rotation notifications for records approaching it.
func (s *Scheduler) scan(ctx context.Context) {
	records, err := s.vault.store.List(ctx)
	if err != nil {
		logger.Errorf("rotation scan failed to list records: %v", err)
		return
	}

	now := time.Now()
	for _, record := range records {
		if record.NextRotation.IsZero() {
			continue
		}

		if s.notify != nil && s.notice > 0 && !s.notified[record.ID] &&
			now.After(record.NextRotation.Add(-s.notice)) && now.Before(record.NextRotation) {
			s.notified[record.ID] = true
			s.notify(record, record.NextRotation)
		}

		if !now.After(record.NextRotation) {
			continue
		}

		s.rotateDue(ctx, record, now)
	}
}

// rotateDue re-encrypts one due record. The due time is re-checked from
// the store immediately before rotating, so concurrent schedulers (or a
// manual rotation racing the scan) do not double-rotate.
func (s *Scheduler) rotateDue(ctx context.Context, record *Record, now time.Time) {
	current, err := s.vault.store.Get(ctx, record.ID)
	if err != nil {
		// Already rotated away by someone else.
		return
	}
	if current.NextRotation.IsZero() || now.Before(current.NextRotation) {
		return
	}

	credential, err := s.vault.Decrypt(ctx, current.ID, "rotation-scheduler")
	if err != nil {
		logger.Errorf("automatic rotation failed to decrypt record %s: %v", current.ID, err)
		return
	}

	next, err := s.vault.Rotate(ctx, current.ID, credential, "rotation-scheduler")
	if err != nil {
		logger.Errorf("automatic rotation failed for record %s: %v", current.ID, err)
		return
	}

	delete(s.notified, current.ID)
	logger.Infof("rotated credential for tenant %s: version %d -> %d", next.TenantID, current.Version, next.Version)
}
