package health

import (
	"sync"
	"testing"
)

func TestServiceHealthyUntilThresholdExceeded(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("geo-primary")
	}
	if status := tracker.ServiceHealth("geo-primary"); !status.Healthy {
		t.Fatalf("expected healthy at 5 failures, got %+v", status)
	}

	tracker.RecordFailure("geo-primary")
	status := tracker.ServiceHealth("geo-primary")
	if status.Healthy {
		t.Fatalf("expected unhealthy after 6 failures, got %+v", status)
	}
	if status.ErrorCount <= 5 {
		t.Fatalf("expected error count > 5, got %d", status.ErrorCount)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 10; i++ {
		tracker.RecordFailure("geo-primary")
	}
	tracker.RecordSuccess("geo-primary")

	status := tracker.ServiceHealth("geo-primary")
	if !status.Healthy || status.ErrorCount != 0 {
		t.Fatalf("expected reset entry after success, got %+v", status)
	}
}

func TestUnknownServiceReportsHealthy(t *testing.T) {
	tracker := NewTracker()

	status := tracker.ServiceHealth("never-seen")
	if !status.Healthy || status.ErrorCount != 0 {
		t.Fatalf("unexpected status for unknown service: %+v", status)
	}
}

func TestReadsDoNotCreateEntries(t *testing.T) {
	tracker := NewTracker()

	tracker.ServiceHealth("queried-once")
	tracker.IsHealthy("queried-twice")

	if snapshot := tracker.Snapshot(); len(snapshot) != 0 {
		t.Fatalf("read-only queries leaked entries: %+v", snapshot)
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	tracker := NewTracker()

	const goroutines = 20
	const failuresEach = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < failuresEach; j++ {
				tracker.RecordFailure("stripe")
			}
		}()
	}
	wg.Wait()

	status := tracker.ServiceHealth("stripe")
	if status.ErrorCount != goroutines*failuresEach {
		t.Fatalf("lost updates: expected %d failures, got %d", goroutines*failuresEach, status.ErrorCount)
	}
}

func TestResetClearsAllEntries(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordFailure("a")
	tracker.RecordFailure("b")

	tracker.Reset()

	if len(tracker.Snapshot()) != 0 {
		t.Fatal("expected no entries after reset")
	}
}
