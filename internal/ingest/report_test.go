package ingest_test

import (
	"errors"
	"testing"
	"time"

	"vidingest/internal/ingest"
)

func sampleItems() []ingest.WorkItem {
	return []ingest.WorkItem{
		{ID: "one", Source: "/src/one.mov", Key: "one", ObjectKey: "one.mp4"},
		{ID: "two", Source: "/src/two.mov", Key: "two", ObjectKey: "two.mp4"},
		{ID: "three", Source: "/src/three.mov", Key: "three", ObjectKey: "three.mp4"},
	}
}

func TestTrackerRejectsDuplicateIDs(t *testing.T) {
	items := sampleItems()
	items = append(items, items[0])
	if _, err := ingest.NewTracker(items); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestTrackerRejectsRegression(t *testing.T) {
	tracker, err := ingest.NewTracker(sampleItems())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	if err := tracker.Advance("one", ingest.StateTransferred); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := tracker.Advance("one", ingest.StateTransformed); err == nil {
		t.Fatal("expected regression to be rejected")
	}
	if err := tracker.Register("one"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tracker.Fail("one", ingest.ReasonRegistrationError, "late"); err == nil {
		t.Fatal("expected terminal item to reject failure")
	}
	if err := tracker.Advance("missing", ingest.StateTransformed); !errors.Is(err, ingest.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if err := tracker.Advance("two", ingest.StateRegistered); err == nil {
		t.Fatal("expected Advance to refuse terminal states")
	}
}

func TestTrackerReportPartitions(t *testing.T) {
	items := sampleItems()
	tracker, err := ingest.NewTracker(items)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	if err := tracker.Fail("one", ingest.ReasonConversionError, "bad codec"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := tracker.Advance("two", ingest.StateTransformed); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := tracker.Advance("two", ingest.StateTransferred); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := tracker.SetURI("two", "gs://b/two.mp4", true); err != nil {
		t.Fatalf("set uri: %v", err)
	}

	if _, err := tracker.Report("run", "ingest", time.Now(), time.Now()); err == nil {
		t.Fatal("expected report to refuse non-terminal items")
	}
	if pending := tracker.Pending(); len(pending) != 2 || pending[0] != "two" || pending[1] != "three" {
		t.Fatalf("unexpected pending %v", pending)
	}

	if err := tracker.Register("two"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tracker.Skip("three", ingest.ReasonAlreadyPresent, ""); err != nil {
		t.Fatalf("skip: %v", err)
	}

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report, err := tracker.Report("run", "ingest", started, started.Add(90*time.Second))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := report.CheckPartition(items); err != nil {
		t.Fatalf("partition: %v", err)
	}
	if got := report.Succeeded(); len(got) != 1 || got[0] != "two" {
		t.Fatalf("unexpected succeeded %v", got)
	}
	if got := report.Skipped(); len(got) != 1 || got[0] != "three" {
		t.Fatalf("unexpected skipped %v", got)
	}
	if got := report.Failed(); len(got) != 1 || got["one"] != ingest.ReasonConversionError {
		t.Fatalf("unexpected failed %v", got)
	}
	counts := report.Counts()
	if counts.Total != 3 || counts.Succeeded != 1 || counts.Failed != 1 || counts.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if !report.HasFailures() {
		t.Fatal("expected HasFailures")
	}
	if report.Duration() != 90*time.Second {
		t.Fatalf("unexpected duration %s", report.Duration())
	}
	outcome, ok := report.Outcome("two")
	if !ok || outcome.URI != "gs://b/two.mp4" || !outcome.Uploaded {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestCheckPartitionDetectsGaps(t *testing.T) {
	items := sampleItems()
	report := &ingest.RunReport{Outcomes: []ingest.Outcome{
		{ID: "one", State: ingest.StateRegistered},
		{ID: "two", State: ingest.StateFailed},
	}}
	if err := report.CheckPartition(items); err == nil {
		t.Fatal("expected missing item to be detected")
	}
	report.Outcomes = append(report.Outcomes, ingest.Outcome{ID: "two", State: ingest.StateSkipped})
	if err := report.CheckPartition(items); err == nil {
		t.Fatal("expected duplicate item to be detected")
	}
}
