package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/persist"
)

func TestArchiverLocalOnlyArchivesAndPrunesAgedOutTicks(t *testing.T) {
	ctx := context.Background()
	gw := persist.NewMemoryGateway()

	for tick := uint64(1); tick <= 15; tick++ {
		record := &domain.TickEventRecord{
			Tick:      tick,
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Hour),
		}
		if err := gw.SaveTickEventRecord(ctx, record); err != nil {
			t.Fatalf("save tick event %d: %v", tick, err)
		}
	}

	dir := t.TempDir()
	currentTick := func() uint64 { return 15 }
	a, err := New(ctx, gw, currentTick, dir, 1, 1, 10, "", "", "wallstreetsim", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.cycle(ctx)

	// Ticks 1-4 are older than the 10-tick horizon (cutoff = 15-10 = 5, so
	// ticks < 5 are pruned) and should now be archived to local disk.
	found := false
	err = filepath.Walk(filepath.Join(dir, "tick-events"), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		found = true
		f, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		gz, gerr := gzip.NewReader(f)
		if gerr != nil {
			return gerr
		}
		defer gz.Close()
		dec := json.NewDecoder(gz)
		for {
			var r domain.TickEventRecord
			if derr := dec.Decode(&r); derr == io.EOF {
				break
			} else if derr != nil {
				return derr
			}
			if r.Tick >= 5 {
				t.Errorf("archived tick %d should have been below the cutoff", r.Tick)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk archive dir: %v", err)
	}
	if !found {
		t.Fatal("expected at least one archive file to be written")
	}

	remaining, err := gw.GetTickEventRecords(ctx, 0, 15)
	if err != nil {
		t.Fatalf("get tick event records: %v", err)
	}
	for _, r := range remaining {
		if r.Tick < 5 {
			t.Errorf("tick %d should have been pruned from the gateway after archiving", r.Tick)
		}
	}
	if len(remaining) != 11 {
		t.Errorf("expected 11 remaining tick events (ticks 5-15), got %d", len(remaining))
	}
}

func TestArchiverNoOpWhenBelowRetentionHorizon(t *testing.T) {
	ctx := context.Background()
	gw := persist.NewMemoryGateway()
	if err := gw.SaveTickEventRecord(ctx, &domain.TickEventRecord{Tick: 1, Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("save tick event: %v", err)
	}

	dir := t.TempDir()
	a, err := New(ctx, gw, func() uint64 { return 3 }, dir, 1, 1, 10000, "", "", "wallstreetsim", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.cycle(ctx)

	remaining, err := gw.GetTickEventRecords(ctx, 0, 3)
	if err != nil {
		t.Fatalf("get tick event records: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected tick event to remain untouched, got %d records", len(remaining))
	}
}
