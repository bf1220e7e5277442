// Package archive moves TickEventRecords that have aged out of the hot
// retention horizon (SPEC_FULL.md's resolved Open Question: 10,000
// ticks) to gzipped NDJSON, optionally pushed to S3, before they're
// deleted from the gateway. internal/persist.RunRetention handles the
// no-archival case (delete-only); Archiver supersedes it when an S3
// bucket is configured, archiving each batch before pruning it.
//
// Grounded on the teacher's internal/archive/archiver.go: same
// cycle/rotate shape (periodic scan, gzipped NDJSON written by day,
// size-capped local retention), retargeted from calendar-day trade
// archival against a raw Mongo collection to tick-count TickEventRecord
// archival against persist.Gateway, and from a Mongo-stored cursor
// document to the gateway's own OldestTickEventRecord/
// DeleteTickEventRecordsBefore bookkeeping.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/persist"
)

// Archiver periodically moves TickEventRecords older than the retention
// horizon out of the gateway into gzipped NDJSON, pushing each batch to
// S3 when a bucket is configured, then deleting the archived range.
type Archiver struct {
	gw          persist.Gateway
	currentTick func() uint64
	log         *zap.Logger

	dir           string
	maxBytes      int64
	interval      time.Duration
	retentionTicks uint64

	s3     *s3.Client
	bucket string
	prefix string
}

// New creates an Archiver. If bucket is empty, archived batches are kept
// only on local disk under dir. retentionTicks <= 0 disables archival
// entirely (use persist.RunRetention directly in that case).
func New(ctx context.Context, gw persist.Gateway, currentTick func() uint64, dir string, maxGB int, intervalHours int, retentionTicks uint64, bucket, region, prefix string, log *zap.Logger) (*Archiver, error) {
	a := &Archiver{
		gw:             gw,
		currentTick:    currentTick,
		log:            log,
		dir:            dir,
		maxBytes:       int64(maxGB) * 1 << 30,
		interval:       time.Duration(intervalHours) * time.Hour,
		retentionTicks: retentionTicks,
		bucket:         bucket,
		prefix:         prefix,
	}
	if bucket == "" {
		return a, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	a.s3 = s3.NewFromConfig(cfg)
	return a, nil
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	if a.retentionTicks == 0 {
		a.log.Info("tick event archival disabled (retention horizon is 0)")
		return
	}
	a.log.Info("tick event archiver active",
		zap.String("dir", a.dir),
		zap.Int64("maxBytes", a.maxBytes),
		zap.Duration("interval", a.interval),
		zap.Uint64("retentionTicks", a.retentionTicks),
		zap.String("s3Bucket", a.bucket))

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	oldest, ok, err := a.gw.OldestTickEventRecord(ctx)
	if err != nil {
		a.log.Warn("tick event archiver: find oldest", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	tick := a.currentTick()
	if tick <= a.retentionTicks {
		return
	}
	cutoff := tick - a.retentionTicks
	if oldest >= cutoff {
		return
	}

	from := oldest
	if from > 0 {
		from--
	}
	records, err := a.gw.GetTickEventRecords(ctx, from, cutoff-1)
	if err != nil {
		a.log.Warn("tick event archiver: query", zap.Error(err))
		return
	}
	if len(records) == 0 {
		if err := a.gw.DeleteTickEventRecordsBefore(ctx, cutoff); err != nil {
			a.log.Warn("tick event archiver: prune empty range", zap.Error(err))
		}
		return
	}

	for day, batch := range groupByDay(records) {
		data, err := encodeBatch(batch)
		if err != nil {
			a.log.Warn("tick event archiver: encode batch", zap.String("day", day), zap.Error(err))
			return
		}
		if err := a.writeLocal(day, data); err != nil {
			a.log.Warn("tick event archiver: write local", zap.String("day", day), zap.Error(err))
			return
		}
		if err := a.pushS3(ctx, day, data); err != nil {
			a.log.Warn("tick event archiver: push to s3", zap.String("day", day), zap.Error(err))
			return
		}
		a.log.Info("tick event archiver: archived batch", zap.String("day", day), zap.Int("ticks", len(batch)))
	}

	if err := a.gw.DeleteTickEventRecordsBefore(ctx, cutoff); err != nil {
		a.log.Warn("tick event archiver: prune archived range", zap.Uint64("cutoffTick", cutoff), zap.Error(err))
		return
	}
	a.rotate()
}

func groupByDay(records []domain.TickEventRecord) map[string][]domain.TickEventRecord {
	batches := make(map[string][]domain.TickEventRecord)
	for _, r := range records {
		day := r.Timestamp.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], r)
	}
	return batches
}

func encodeBatch(records []domain.TickEventRecord) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return nil, fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// writeLocal writes an archived batch to dir/tick-events/YYYY/MM/DD.jsonl.gz.
func (a *Archiver) writeLocal(day string, data []byte) error {
	path := filepath.Join(a.dir, "tick-events", day+".jsonl.gz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (a *Archiver) pushS3(ctx context.Context, day string, data []byte) error {
	if a.s3 == nil {
		return nil
	}
	key := fmt.Sprintf("%s/tick-events/%s.jsonl.gz", a.prefix, day)
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// rotate deletes the oldest local archive files until total size is
// under maxBytes. S3 objects are never rotated out — local disk is only
// a staging/backup copy once S3 is configured.
func (a *Archiver) rotate() {
	if a.maxBytes <= 0 {
		return
	}
	root := filepath.Join(a.dir, "tick-events")

	type entry struct {
		path string
		size int64
	}
	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})
	if total <= a.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			a.log.Warn("tick event archiver: rotate remove", zap.String("path", f.path), zap.Error(err))
			continue
		}
		total -= f.size
		a.log.Debug("tick event archiver: rotated out local file", zap.String("path", f.path), zap.Int64("bytes", f.size))
	}
}
