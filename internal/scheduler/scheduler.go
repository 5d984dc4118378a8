// Package scheduler runs the daemon's periodic jobs. Each configured
// schedule is a cron entry that either rescans every known device or sweeps
// a network for new ones, handing the resulting per-device jobs to the
// worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/services"
	"github.com/anstrom/netman/internal/sweep"
	"github.com/anstrom/netman/internal/workers"
)

// Service is the part of services.DeviceService the scheduler drives.
type Service interface {
	ScanAll(ctx context.Context, submit func(id uuid.UUID) error) (int, error)
	Sweep(ctx context.Context, network string) ([]string, error)
	DiscoverJob(req services.DiscoverRequest) *workers.DiscoverJob
	ScanJob(id uuid.UUID) *workers.ScanJob
}

// Submitter accepts jobs; *workers.Pool implements it.
type Submitter interface {
	Submit(job workers.Job) error
}

// SweepRecorder counts hosts found by sweeps.
type SweepRecorder interface {
	HostsSwept(n int)
}

// Entry is the runtime state of one schedule.
type Entry struct {
	Name    string
	Kind    string
	Cron    string
	Network string
	CronID  cron.EntryID
	LastRun time.Time
	NextRun time.Time
	Running bool
}

// Scheduler manages the periodic jobs.
type Scheduler struct {
	cron     *cron.Cron
	service  Service
	pool     Submitter
	recorder SweepRecorder
	logger   *logging.Logger
	entries  map[string]*Entry
	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRecorder sets the sweep metrics recorder.
func WithRecorder(r SweepRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a new job scheduler.
func NewScheduler(service Service, pool Submitter, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:    cron.New(),
		service: service,
		pool:    pool,
		logger:  logging.Default(),
		entries: make(map[string]*Entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("scheduler")
	return s
}

// Add registers a schedule. Names must be unique.
func (s *Scheduler) Add(sc config.ScheduleConfig) error {
	if sc.Name == "" {
		return errors.ErrConfigMissing("schedules.name")
	}
	schedule, err := cron.ParseStandard(sc.Cron)
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression for schedule %q", sc.Name), err)
	}

	var run func()
	switch sc.Kind {
	case config.ScheduleScanAll:
		run = func() { s.execute(sc.Name, s.scanAll) }
	case config.ScheduleSweep:
		if _, err := sweep.ValidateNetwork(sc.Network); err != nil {
			return errors.WrapConfigError(errors.CodeValidation,
				fmt.Sprintf("invalid network for schedule %q", sc.Name), err)
		}
		run = func() { s.execute(sc.Name, s.sweep) }
	default:
		return errors.ErrConfigInvalid("schedules.kind", sc.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sc.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeConflict, "Duplicate schedule name", "schedules.name", sc.Name)
	}

	cronID, err := s.cron.AddFunc(sc.Cron, run)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entries[sc.Name] = &Entry{
		Name:    sc.Name,
		Kind:    sc.Kind,
		Cron:    sc.Cron,
		Network: sc.Network,
		CronID:  cronID,
		NextRun: schedule.Next(time.Now()),
	}

	s.logger.Info("Added schedule", "name", sc.Name, "kind", sc.Kind, "cron", sc.Cron)
	return nil
}

// Remove unregisters a schedule.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[name]
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "Schedule not found", "schedules.name", name)
	}

	s.cron.Remove(entry.CronID)
	delete(s.entries, name)

	s.logger.Info("Removed schedule", "name", name)
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "schedules", len(s.entries))
	return nil
}

// Stop stops the scheduler and waits for running schedules to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	s.logger.Info("Scheduler stopped")
}

// Entries returns a snapshot of every schedule, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot := *e
		if next := s.cron.Entry(e.CronID).Next; !next.IsZero() {
			snapshot.NextRun = next
		}
		entries = append(entries, snapshot)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Trigger runs a schedule immediately, outside its cron timing.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	entry, exists := s.entries[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "Schedule not found", "schedules.name", name)
	}

	switch entry.Kind {
	case config.ScheduleSweep:
		s.execute(name, s.sweep)
	default:
		s.execute(name, s.scanAll)
	}
	return nil
}

// execute runs fn for the named schedule unless a previous run is still going.
func (s *Scheduler) execute(name string, fn func(ctx context.Context, entry Entry) error) {
	s.mu.Lock()
	entry, exists := s.entries[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	if entry.Running {
		s.mu.Unlock()
		s.logger.Warn("Schedule is already running, skipping", "name", name)
		return
	}
	entry.Running = true
	entry.LastRun = time.Now()
	snapshot := *entry
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if entry, exists := s.entries[name]; exists {
			entry.Running = false
		}
		s.mu.Unlock()
	}()

	s.logger.Info("Executing schedule", "name", name, "kind", snapshot.Kind)
	if err := fn(s.ctx, snapshot); err != nil {
		s.logger.Error("Schedule failed", "name", name, "kind", snapshot.Kind, "error", err)
		return
	}
	s.logger.Info("Schedule completed", "name", name, "duration", time.Since(snapshot.LastRun))
}

func (s *Scheduler) scanAll(ctx context.Context, _ Entry) error {
	n, err := s.service.ScanAll(ctx, func(id uuid.UUID) error {
		return s.pool.Submit(s.service.ScanJob(id))
	})
	s.logger.Debug("Scan jobs submitted", "count", n)
	return err
}

func (s *Scheduler) sweep(ctx context.Context, entry Entry) error {
	hosts, err := s.service.Sweep(ctx, entry.Network)
	if err != nil {
		return err
	}
	if s.recorder != nil {
		s.recorder.HostsSwept(len(hosts))
	}

	submitted := 0
	for _, ip := range hosts {
		if err := s.pool.Submit(s.service.DiscoverJob(services.DiscoverRequest{IP: ip})); err != nil {
			return fmt.Errorf("submitted %d of %d discovery jobs: %w", submitted, len(hosts), err)
		}
		submitted++
	}
	s.logger.Debug("Discovery jobs submitted", "network", entry.Network, "count", submitted)
	return nil
}
