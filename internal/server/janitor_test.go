package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 5, 10, 4, 0, 0, 0, time.UTC)
	yesterday := now.Add(-26 * time.Hour)
	earlier := time.Date(2026, 5, 10, 3, 30, 0, 0, time.UTC)

	if !isDue("0 3 * * *", nil, now) {
		t.Fatal("never-run janitor should be due")
	}
	if !isDue("0 3 * * *", &yesterday, now) {
		t.Fatal("03:00 fire time passed since last run, should be due")
	}
	if isDue("0 3 * * *", &earlier, now) {
		t.Fatal("already ran after 03:00 today, should not be due")
	}
}

func TestIsDueInvalidSpecFallsBackToDaily(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Hour)
	old := now.Add(-25 * time.Hour)

	if !isDue("not a cron", nil, now) {
		t.Fatal("never-run janitor should be due")
	}
	if isDue("not a cron", &recent, now) {
		t.Fatal("ran an hour ago, daily fallback should not be due")
	}
	if !isDue("not a cron", &old, now) {
		t.Fatal("ran 25h ago, daily fallback should be due")
	}
}
