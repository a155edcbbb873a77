package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Store persists cron jobs in a single JSON file next to the config
// (haya.json owns haya.cron.json). Saves are atomic: temp file + rename.
type Store struct {
	path string
	mu   sync.Mutex
	jobs []models.CronJob
	now  func() time.Time
}

// NewStore anchors a store at path without loading it.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load reads the store file and merges seed jobs from the config. Seeds
// are matched by name; an existing stored job keeps its id, enabled flag,
// and run history, but takes the seed's schedule, action, and metadata.
func (s *Store) Load(seeds []models.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []models.CronJob
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("parse cron store %s: %w", s.path, err)
			}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("read cron store: %w", err)
	}

	byName := make(map[string]int, len(stored))
	for i, job := range stored {
		byName[job.Name] = i
	}

	now := s.now().UnixMilli()
	for _, seed := range seeds {
		if i, ok := byName[seed.Name]; ok {
			stored[i].Schedule = seed.Schedule
			stored[i].Action = seed.Action
			stored[i].Metadata = seed.Metadata
			stored[i].UpdatedAt = now
			continue
		}
		job := seed
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.Enabled = true
		job.CreatedAt = now
		job.UpdatedAt = now
		stored = append(stored, job)
	}

	s.jobs = stored
	return s.saveLocked()
}

// Jobs returns a copy of every stored job, stable by id.
func (s *Store) Jobs() []models.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CronJob, len(s.jobs))
	copy(out, s.jobs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one job by id.
func (s *Store) Get(id string) (models.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return models.CronJob{}, &errdefs.NotFoundError{Kind: "cron job", ID: id}
}

// Add validates, assigns an id and timestamps, and persists the job.
func (s *Store) Add(job models.CronJob) (models.CronJob, error) {
	if _, err := ParseSchedule(job.Schedule); err != nil {
		return models.CronJob{}, errdefs.Validationf("%v", err)
	}
	if job.Name == "" {
		return models.CronJob{}, errdefs.Validationf("cron job name is required")
	}
	if job.Action == "" {
		return models.CronJob{}, errdefs.Validationf("cron job action is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := s.now().UnixMilli()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Enabled = true
	s.jobs = append(s.jobs, job)
	if err := s.saveLocked(); err != nil {
		return models.CronJob{}, err
	}
	return job, nil
}

// Remove deletes a job by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return s.saveLocked()
		}
	}
	return &errdefs.NotFoundError{Kind: "cron job", ID: id}
}

// SetEnabled flips a job's enabled flag.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Enabled = enabled
			s.jobs[i].UpdatedAt = s.now().UnixMilli()
			return s.saveLocked()
		}
	}
	return &errdefs.NotFoundError{Kind: "cron job", ID: id}
}

// MarkRun records a fire time.
func (s *Store) MarkRun(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].LastRunAt = at.UnixMilli()
			return s.saveLocked()
		}
	}
	return &errdefs.NotFoundError{Kind: "cron job", ID: id}
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cron store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cron-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
