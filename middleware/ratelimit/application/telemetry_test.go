package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

type fakePrimary struct {
	events   []domain.StatsEvent
	counters domain.UsageCounters
}

func (f *fakePrimary) Record(_ context.Context, ev domain.StatsEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePrimary) Counters() domain.UsageCounters { return f.counters }

type failingMirror struct{ calls int }

func (m *failingMirror) Record(context.Context, domain.StatsEvent) error {
	m.calls++
	return errors.New("redis down")
}

type fixedActive int

func (f fixedActive) Active() int { return int(f) }

func TestUsageService_RecordFansOutAndIgnoresMirrorErrors(t *testing.T) {
	primary := &fakePrimary{}
	mirror := &failingMirror{}
	u := UsageService{Primary: primary, Mirrors: []domain.StatsStore{mirror, nil}}

	u.Record(context.Background(), domain.StatsEvent{Identity: "a", Outcome: domain.OutcomeSucceeded})

	if len(primary.events) != 1 {
		t.Fatalf("expected primary to record once, got %d", len(primary.events))
	}
	if primary.events[0].At.IsZero() {
		t.Fatalf("expected event timestamp to be filled")
	}
	if mirror.calls != 1 {
		t.Fatalf("expected mirror to be called once, got %d", mirror.calls)
	}
}

func TestUsageService_Snapshot(t *testing.T) {
	primary := &fakePrimary{counters: domain.UsageCounters{
		TotalRequests:    30,
		UniqueIdentities: 4,
		Errors:           2,
		RateLimitHits:    5,
		StartTime:        t0,
	}}
	u := UsageService{Primary: primary, Active: fixedActive(3)}

	snap := u.Snapshot(t0.Add(2 * time.Hour))
	if snap.TotalRequests != 30 || snap.UniqueIdentities != 4 || snap.Errors != 2 || snap.RateLimitHits != 5 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.RequestsPerUptimeHour != 15 {
		t.Fatalf("expected 15 req/h, got %v", snap.RequestsPerUptimeHour)
	}
	if snap.ActiveIdentities != 3 {
		t.Fatalf("expected 3 active identities, got %d", snap.ActiveIdentities)
	}
	if snap.UptimeSeconds != 7200 || snap.Uptime != "2h0m0s" {
		t.Fatalf("unexpected uptime: %v %q", snap.UptimeSeconds, snap.Uptime)
	}
	if snap.StartTime != "2025-01-01T12:00:00Z" {
		t.Fatalf("unexpected start time %q", snap.StartTime)
	}
}

func TestUsageService_SnapshotAtStartDoesNotDivideByZero(t *testing.T) {
	primary := &fakePrimary{counters: domain.UsageCounters{TotalRequests: 1, StartTime: t0}}
	u := UsageService{Primary: primary}

	snap := u.Snapshot(t0)
	if snap.RequestsPerUptimeHour != 1000 {
		t.Fatalf("expected total/epsilon=1000, got %v", snap.RequestsPerUptimeHour)
	}
}

func TestUsageService_SnapshotIsIdempotent(t *testing.T) {
	primary := &fakePrimary{counters: domain.UsageCounters{TotalRequests: 7, StartTime: t0}}
	u := UsageService{Primary: primary, Active: fixedActive(1)}

	now := t0.Add(time.Hour)
	if a, b := u.Snapshot(now), u.Snapshot(now); a != b {
		t.Fatalf("expected identical snapshots, got %+v and %+v", a, b)
	}
}
