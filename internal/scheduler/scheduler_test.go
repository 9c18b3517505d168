package scheduler

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "schedules.json"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s
}

func TestParseCronAndMatch(t *testing.T) {
	c, err := ParseCron("*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 24, 12, 5, 30, 0, time.UTC)
	if !c.Matches(at) {
		t.Errorf("12:05 should match */5")
	}
	if c.Matches(at.Add(time.Minute)) {
		t.Errorf("12:06 should not match */5")
	}
	if _, err := ParseCron("not a cron"); err == nil {
		t.Error("garbage cron accepted")
	}
}

func TestEntryValidation(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		ok    bool
	}{
		{"cron", Entry{Goal: "g", Cron: "0 * * * *"}, true},
		{"interval", Entry{Goal: "g", IntervalSec: 60}, true},
		{"no goal", Entry{Cron: "0 * * * *"}, false},
		{"both", Entry{Goal: "g", Cron: "0 * * * *", IntervalSec: 60}, false},
		{"neither", Entry{Goal: "g"}, false},
		{"bad cron", Entry{Goal: "g", Cron: "nope"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestIntervalEntryDue(t *testing.T) {
	e := NewEntry("rotate logs", "", 60)
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	if !e.due(now) {
		t.Error("never-run entry not due")
	}
	e.LastRun = now
	if e.due(now.Add(30 * time.Second)) {
		t.Error("due before interval elapsed")
	}
	if !e.due(now.Add(61 * time.Second)) {
		t.Error("not due after interval")
	}

	e.Enabled = false
	if e.due(now.Add(time.Hour)) {
		t.Error("disabled entry due")
	}
}

func TestCronEntryFiresOncePerMinute(t *testing.T) {
	e := NewEntry("sweep", "* * * * *", 0)
	now := time.Date(2026, 8, 24, 9, 0, 10, 0, time.UTC)

	if !e.due(now) {
		t.Fatal("not due in matching minute")
	}
	e.LastRun = now
	if e.due(now.Add(20 * time.Second)) {
		t.Error("fired twice in the same minute")
	}
	if !e.due(now.Add(time.Minute)) {
		t.Error("not due in the next minute")
	}
}

func TestMaxRunsBound(t *testing.T) {
	e := NewEntry("once", "", 1)
	e.MaxRuns = 2
	e.RunCount = 2
	if e.due(time.Now()) {
		t.Error("entry past max runs still due")
	}
}

func TestStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEntry("backup", "0 3 * * *", 0)
	e.Priority = 4
	if err := s.Add(e); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get(e.ID)
	if !ok || got.Goal != "backup" || got.Priority != 4 || !got.Enabled {
		t.Errorf("entry after reopen = %+v ok=%v", got, ok)
	}

	removed, err := reopened.Remove(e.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	removed, _ = reopened.Remove(e.ID)
	if removed {
		t.Error("second remove reported true")
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	if err := s.Add(&Entry{ID: "x", Goal: ""}); err == nil {
		t.Error("invalid entry accepted")
	}
}

func TestSchedulerTick(t *testing.T) {
	s := openTestStore(t)

	due := NewEntry("sync mirrors", "", 60)
	later := NewEntry("nightly build", "0 3 * * *", 0)
	off := NewEntry("disabled", "", 1)
	off.Enabled = false
	for _, e := range []*Entry{due, later, off} {
		if err := s.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	var submitted []string
	sched := New(s, func(goal string, priority int) error {
		submitted = append(submitted, goal)
		return nil
	}, nil)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if fired := sched.Tick(now); fired != 1 {
		t.Fatalf("fired = %d, submitted = %v", fired, submitted)
	}
	if len(submitted) != 1 || submitted[0] != "sync mirrors" {
		t.Errorf("submitted = %v", submitted)
	}

	got, _ := s.Get(due.ID)
	if got.RunCount != 1 || !got.LastRun.Equal(now) {
		t.Errorf("entry after fire = %+v", got)
	}

	// Same instant again: interval has not elapsed.
	if fired := sched.Tick(now); fired != 0 {
		t.Errorf("refired immediately: %d", fired)
	}

	// 03:00 fires the cron entry.
	night := time.Date(2026, 8, 25, 3, 0, 5, 0, time.UTC)
	if fired := sched.Tick(night); fired == 0 {
		t.Error("cron entry never fired")
	}
}

func TestSchedulerSubmitFailureDoesNotRecord(t *testing.T) {
	s := openTestStore(t)
	e := NewEntry("flaky", "", 60)
	if err := s.Add(e); err != nil {
		t.Fatal(err)
	}

	sched := New(s, func(string, int) error { return errBoom }, nil)
	if fired := sched.Tick(time.Now()); fired != 0 {
		t.Errorf("fired = %d", fired)
	}
	got, _ := s.Get(e.ID)
	if got.RunCount != 0 {
		t.Errorf("run recorded despite submit failure: %+v", got)
	}
}

var errBoom = errString("boom")

type errString string

func (e errString) Error() string { return string(e) }
