package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "haya.cron.json")
	return NewService(path, nil)
}

func TestInitMergesSeeds(t *testing.T) {
	svc := newTestService(t)
	seeds := []models.CronJob{
		{Name: "nightly-prune", Schedule: "0 3 * * *", Action: models.ActionPruneSessions},
	}
	if err := svc.Init(seeds); err != nil {
		t.Fatalf("Init: %v", err)
	}

	jobs := svc.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	if jobs[0].ID == "" || !jobs[0].Enabled {
		t.Errorf("seed job not normalized: %+v", jobs[0])
	}

	// A second init with an updated seed schedule keeps the id.
	id := jobs[0].ID
	seeds[0].Schedule = "0 4 * * *"
	if err := svc.Init(seeds); err != nil {
		t.Fatal(err)
	}
	jobs = svc.Jobs()
	if len(jobs) != 1 || jobs[0].ID != id || jobs[0].Schedule != "0 4 * * *" {
		t.Errorf("seed merge: %+v", jobs)
	}
}

func TestStoreFileMode(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(svc.store.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("store mode = %o, want 0600", perm)
	}
}

func TestStoreSaveIsValidJSON(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddJob(models.CronJob{Name: "j", Schedule: "* * * * *", Action: "send_reminder"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(svc.store.path)
	if err != nil {
		t.Fatal(err)
	}
	var jobs []models.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		t.Fatalf("store not valid JSON: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("persisted jobs = %d", len(jobs))
	}
}

func TestAddJobValidation(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}

	_, err := svc.AddJob(models.CronJob{Name: "bad", Schedule: "nope", Action: "x"})
	var v *errdefs.ValidationError
	if !errors.As(err, &v) {
		t.Errorf("invalid schedule err = %v", err)
	}
	_, err = svc.AddJob(models.CronJob{Schedule: "* * * * *", Action: "x"})
	if !errors.As(err, &v) {
		t.Errorf("missing name err = %v", err)
	}
}

func TestRemoveJobNotFound(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}
	var nf *errdefs.NotFoundError
	if err := svc.RemoveJob("missing"); !errors.As(err, &nf) {
		t.Errorf("err = %v", err)
	}
}

func TestTimerFiresAndDispatches(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}

	fired := make(chan models.CronJob, 1)
	svc.OnAction(func(_ context.Context, job models.CronJob) error {
		select {
		case fired <- job:
		default:
		}
		return nil
	})

	// Pin "now" a hair before a minute boundary so the timer fires fast.
	base := time.Now().Truncate(time.Minute).Add(59*time.Second + 800*time.Millisecond)
	var mu sync.Mutex
	current := base
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	if _, err := svc.AddJob(models.CronJob{Name: "tick", Schedule: "* * * * *", Action: "custom"}); err != nil {
		t.Fatal(err)
	}
	svc.Start()
	defer svc.Stop()

	select {
	case job := <-fired:
		if job.Name != "tick" {
			t.Errorf("fired job = %s", job.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestOneShotReminderRemovedAfterFire(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}
	fired := make(chan struct{}, 1)
	svc.OnAction(func(_ context.Context, job models.CronJob) error {
		if job.Action == models.ActionSendReminder && job.Metadata["message"] == "stand up" {
			select {
			case fired <- struct{}{}:
			default:
			}
		}
		return nil
	})

	base := time.Now().Truncate(time.Minute).Add(59*time.Second + 800*time.Millisecond)
	svc.now = func() time.Time { return base }

	iso := base.Add(time.Second).Format(time.RFC3339)
	if _, err := svc.AddReminder("stand up", iso, "telegram", "chat-1"); err != nil {
		t.Fatal(err)
	}
	svc.Start()
	defer svc.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("reminder did not fire")
	}

	// Give the removal a moment; the job must be gone.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(svc.Jobs()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("one-shot reminder still stored: %+v", svc.Jobs())
}

func TestSameInstantJobsRunInIDOrder(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)
	svc.OnAction(func(_ context.Context, job models.CronJob) error {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	base := time.Now().Truncate(time.Minute).Add(59*time.Second + 800*time.Millisecond)
	svc.now = func() time.Time { return base }

	a, err := svc.AddJob(models.CronJob{Name: "a", Schedule: "* * * * *", Action: "custom"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.AddJob(models.CronJob{Name: "b", Schedule: "* * * * *", Action: "custom"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{a.ID, b.ID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}

	svc.Start()
	defer svc.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("jobs did not both fire")
		}
	}

	mu.Lock()
	got := append([]string(nil), order[:2]...)
	mu.Unlock()
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("fire order = %v, want %v", got, want)
	}
}

func TestStopPreventsLateFire(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init(nil); err != nil {
		t.Fatal(err)
	}
	fired := make(chan struct{}, 1)
	svc.OnAction(func(_ context.Context, _ models.CronJob) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})

	job, err := svc.AddJob(models.CronJob{Name: "late", Schedule: "* * * * *", Action: "custom"})
	if err != nil {
		t.Fatal(err)
	}
	svc.Start()
	svc.Stop()

	// A timer callback that lost the race with Stop must not dispatch.
	svc.fire(job.ID)
	select {
	case <-fired:
		t.Error("action dispatched after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStatusProjectsNextRun(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init([]models.CronJob{{Name: "n", Schedule: "0 12 * * *", Action: "custom"}}); err != nil {
		t.Fatal(err)
	}
	statuses := svc.Status()
	if len(statuses) != 1 || statuses[0].NextRunAt == 0 {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestStopClearsTimers(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Init([]models.CronJob{{Name: "n", Schedule: "* * * * *", Action: "custom"}}); err != nil {
		t.Fatal(err)
	}
	svc.Start()
	svc.Stop()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.timers) != 0 {
		t.Errorf("timers after Stop = %d", len(svc.timers))
	}
}
