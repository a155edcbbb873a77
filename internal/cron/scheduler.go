package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hayahq/haya/pkg/models"
)

// ActionHandler runs one named action when its job fires.
type ActionHandler func(ctx context.Context, job models.CronJob) error

// Service owns the store plus one in-memory timer per enabled job.
type Service struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	timers   map[string]*time.Timer
	nextAt   map[string]time.Time // armed fire time per job id
	handler  ActionHandler
	started  bool
	runGroup sync.WaitGroup
}

// NewService wires a scheduler over the store at storePath.
func NewService(storePath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  NewStore(storePath),
		logger: logger.With("component", "cron"),
		now:    time.Now,
		timers: make(map[string]*time.Timer),
		nextAt: make(map[string]time.Time),
	}
}

// Store exposes the backing store (CLI listing, tests).
func (s *Service) Store() *Store { return s.store }

// OnAction registers the single dispatcher consulted by action name.
func (s *Service) OnAction(handler ActionHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Init loads the store, merging seed jobs from the config.
func (s *Service) Init(seeds []models.CronJob) error {
	return s.store.Load(seeds)
}

// Start arms a timer for every enabled job. Jobs sharing a fire time run
// in id order: whichever timer fires first claims the whole batch.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, job := range s.store.Jobs() {
		if job.Enabled {
			s.armLocked(job)
		}
	}
}

// Stop clears every timer and waits for in-flight actions.
func (s *Service) Stop() {
	s.mu.Lock()
	s.started = false
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	clear(s.nextAt)
	s.mu.Unlock()
	s.runGroup.Wait()
}

// Jobs lists the stored jobs.
func (s *Service) Jobs() []models.CronJob {
	return s.store.Jobs()
}

// Status reports each job with its computed next fire time.
type JobStatus struct {
	models.CronJob
	NextRunAt int64 `json:"next_run_at,omitempty"` // unix milliseconds, 0 when unarmed
}

// Status returns the jobs with next-fire projections.
func (s *Service) Status() []JobStatus {
	now := s.now()
	jobs := s.store.Jobs()
	out := make([]JobStatus, 0, len(jobs))
	for _, job := range jobs {
		status := JobStatus{CronJob: job}
		if job.Enabled {
			if sched, err := ParseSchedule(job.Schedule); err == nil {
				if next, ok := sched.Next(now); ok {
					status.NextRunAt = next.UnixMilli()
				}
			}
		}
		out = append(out, status)
	}
	return out
}

// AddJob persists a job and arms it when the service is running.
func (s *Service) AddJob(job models.CronJob) (models.CronJob, error) {
	added, err := s.store.Add(job)
	if err != nil {
		return models.CronJob{}, err
	}
	s.mu.Lock()
	if s.started {
		s.armLocked(added)
	}
	s.mu.Unlock()
	return added, nil
}

// RemoveJob disarms and deletes a job.
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	delete(s.nextAt, id)
	s.mu.Unlock()
	return s.store.Remove(id)
}

// AddReminder schedules a one-shot send_reminder job for the given future
// ISO timestamp.
func (s *Service) AddReminder(message, isoTime, channel, channelID string) (models.CronJob, error) {
	expr, err := ISOToCronExpression(isoTime, s.now())
	if err != nil {
		return models.CronJob{}, err
	}
	meta := map[string]string{
		"message":  message,
		"datetime": isoTime,
		"oneShot":  "true",
	}
	if channel != "" {
		meta["channel"] = channel
	}
	if channelID != "" {
		meta["channelId"] = channelID
	}
	return s.AddJob(models.CronJob{
		Name:     fmt.Sprintf("reminder-%s", s.now().Format("20060102-150405")),
		Schedule: expr,
		Action:   models.ActionSendReminder,
		Metadata: meta,
	})
}

// armLocked schedules the next fire for job. Caller holds s.mu.
func (s *Service) armLocked(job models.CronJob) {
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		s.logger.Warn("job has invalid schedule, not arming", "job", job.Name, "schedule", job.Schedule, "error", err)
		return
	}
	now := s.now()
	next, ok := sched.Next(now)
	if !ok {
		s.logger.Warn("job has no fire time within the lookahead", "job", job.Name, "schedule", job.Schedule)
		return
	}
	if existing, ok := s.timers[job.ID]; ok {
		existing.Stop()
	}
	s.nextAt[job.ID] = next
	s.timers[job.ID] = time.AfterFunc(next.Sub(now), func() { s.fire(job.ID) })
}

// fire claims every job armed for the triggering job's fire time and runs
// them in id order, so jobs sharing an instant never race each other. The
// runGroup is joined before the lock drops; a Stop that ran first has
// already flipped started and cleared the arming maps.
func (s *Service) fire(id string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	at, ok := s.nextAt[id]
	if !ok {
		// A sibling timer already claimed this job.
		s.mu.Unlock()
		return
	}
	var due []string
	for jid, t := range s.nextAt {
		if !t.After(at) {
			due = append(due, jid)
		}
	}
	sort.Strings(due)
	for _, jid := range due {
		if timer, ok := s.timers[jid]; ok {
			timer.Stop()
			delete(s.timers, jid)
		}
		delete(s.nextAt, jid)
	}
	handler := s.handler
	s.runGroup.Add(1)
	s.mu.Unlock()
	defer s.runGroup.Done()

	for _, jid := range due {
		s.runJob(jid, handler)
	}
}

// runJob runs one claimed job's action and re-arms it. One-shot reminders
// disarm after firing instead.
func (s *Service) runJob(id string, handler ActionHandler) {
	job, err := s.store.Get(id)
	if err != nil || !job.Enabled {
		return
	}

	if handler == nil {
		s.logger.Warn("no action handler registered", "job", job.Name, "action", job.Action)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := handler(ctx, job); err != nil {
			s.logger.Error("cron action failed", "job", job.Name, "action", job.Action, "error", err)
		}
		cancel()
	}
	if err := s.store.MarkRun(id, s.now()); err != nil {
		s.logger.Warn("mark run failed", "job", job.Name, "error", err)
	}

	if job.Metadata["oneShot"] == "true" {
		if err := s.store.Remove(id); err != nil {
			s.logger.Warn("remove one-shot job failed", "job", job.Name, "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.started {
		s.armLocked(job)
	}
	s.mu.Unlock()
}
