package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cronhost/pkg/logx"
)

func openTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	st, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Keep: keep,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDisabledStoreIsNil(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("empty path should disable the store")
	}
	// Nil receivers are safe no-ops.
	if err := st.Record(context.Background(), Run{Job: "x"}); err != nil {
		t.Fatalf("nil Record: %v", err)
	}
	if runs, err := st.Recent(context.Background(), "x", 5); err != nil || runs != nil {
		t.Fatalf("nil Recent: %v %v", runs, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 50)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := st.Record(ctx, Run{
			Job:         "news_refresh",
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			FinishedAt:  base.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:      "ok",
			ExitCode:    0,
			OutputBytes: 100 + i,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := st.Record(ctx, Run{Job: "other", StartedAt: base, FinishedAt: base, Status: "fail", ExitCode: 2}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := st.Recent(ctx, "news_refresh", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Fatalf("runs out of order: %v then %v", runs[0].StartedAt, runs[1].StartedAt)
	}
	if runs[0].OutputBytes != 102 {
		t.Fatalf("unexpected newest run: %+v", runs[0])
	}
}

func TestRecordBoundsPerJobRows(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 5)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 12; i++ {
		err := st.Record(ctx, Run{
			Job:        "bounded",
			StartedAt:  now.Add(time.Duration(i) * time.Second),
			FinishedAt: now.Add(time.Duration(i) * time.Second),
			Status:     "ok",
		})
		if err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	runs, err := st.Recent(ctx, "bounded", 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("retention not applied: %d rows", len(runs))
	}
}

func TestTimedOutRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 10)
	ctx := context.Background()

	now := time.Now()
	err := st.Record(ctx, Run{
		Job: "slow", StartedAt: now, FinishedAt: now.Add(2 * time.Second),
		Status: "timeout", ExitCode: -1, TimedOut: true,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	runs, err := st.Recent(ctx, "slow", 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("Recent: %v %v", runs, err)
	}
	if !runs[0].TimedOut || runs[0].ExitCode != -1 || runs[0].Status != "timeout" {
		t.Fatalf("timeout fields mangled: %+v", runs[0])
	}
}
