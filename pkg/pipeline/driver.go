package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/config"
	"github.com/alimane/tmdb-pipeline/pkg/snapshot"
	"github.com/alimane/tmdb-pipeline/pkg/tmdb"
)

// Stage names carried by RunError.
const (
	StageDetermineRange = "determine_range"
	StageStage          = "stage"
	StageCombine        = "combine"
	StageUpdateSnapshot = "update_snapshot"
)

// RunError reports the pipeline stage that failed and its cause.
type RunError struct {
	Stage string
	Err   error
}

func (e *RunError) Error() string { return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err) }

func (e *RunError) Unwrap() error { return e.Err }

// StageResult is the outcome of staging a single movie id.
type StageResult struct {
	ID  int64
	Err error
}

// Driver runs the four pipeline stages in order: DetermineRange, Stage,
// Combine, UpdateSnapshot. There is no branching back between stages.
type Driver struct {
	fetcher tmdb.Fetcher
	store   blob.Store
	cfg     *config.Config
	now     func() time.Time
}

func NewDriver(fetcher tmdb.Fetcher, store blob.Store, cfg *config.Config) *Driver {
	return &Driver{fetcher: fetcher, store: store, cfg: cfg, now: time.Now}
}

// Run executes one full pipeline pass. Per-movie staging failures are
// logged and skipped; a failure in any other stage aborts the run with
// the stage name and cause.
func (d *Driver) Run(ctx context.Context) error {
	runDate := d.now().UTC().Format("2006-01-02")

	if err := blob.EnsureBucket(ctx, d.store, d.cfg.Minio.Bucket); err != nil {
		return &RunError{Stage: StageDetermineRange, Err: err}
	}

	ids, err := d.determineRange(ctx)
	if err != nil {
		return &RunError{Stage: StageDetermineRange, Err: err}
	}
	slog.Info("determined candidate range", "movies", len(ids), "run_date", runDate)

	stagingPrefix := fmt.Sprintf("%s/%s", d.cfg.Pipeline.StagingPrefix, runDate)
	stager := NewStager(d.fetcher, d.store, d.cfg.Minio.Bucket, stagingPrefix)
	results := d.stageAll(ctx, stager, ids)
	staged := 0
	for _, res := range results {
		if res.Err != nil {
			slog.Warn("staging failed", "movie_id", res.ID, "error", res.Err)
			continue
		}
		staged++
	}
	slog.Info("staging finished", "staged", staged, "failed", len(results)-staged)

	archivePath := fmt.Sprintf("%s/combined_%s.json", d.cfg.Pipeline.ArchivePrefix, runDate)
	combiner := NewCombiner(d.store, d.cfg.Minio.Bucket)
	combined, err := combiner.CombineAndUpload(ctx, stagingPrefix, archivePath)
	if err != nil {
		return &RunError{Stage: StageCombine, Err: err}
	}
	slog.Info("archive written", "path", archivePath, "records", combined)

	updater := NewUpdater(d.store, d.cfg.Minio.Bucket)
	total, err := updater.UpdateSnapshot(ctx, d.cfg.Pipeline.SnapshotPath, archivePath)
	if err != nil {
		return &RunError{Stage: StageUpdateSnapshot, Err: err}
	}
	slog.Info("snapshot updated", "path", d.cfg.Pipeline.SnapshotPath, "rows", total)
	return nil
}

// determineRange picks the candidate id set. With a look-back window W
// configured the set is the inclusive range [latest-W, latest]; otherwise
// it runs from the oldest id in the current snapshot to the latest.
func (d *Driver) determineRange(ctx context.Context) ([]int64, error) {
	latest, err := d.fetcher.LatestMovieID(ctx)
	if err != nil {
		return nil, err
	}

	var oldest int64
	if w := d.cfg.Pipeline.LookBackWindow; w > 0 {
		oldest = latest - w
		if oldest < 1 {
			oldest = 1
		}
	} else {
		data, err := d.store.Get(ctx, d.cfg.Minio.Bucket, d.cfg.Pipeline.SnapshotPath)
		if err != nil {
			return nil, err
		}
		existing, err := snapshot.Decode(data)
		if err != nil {
			return nil, err
		}
		min, ok := snapshot.MinID(existing)
		if !ok {
			return nil, fmt.Errorf("snapshot %s is empty, cannot derive the oldest id", d.cfg.Pipeline.SnapshotPath)
		}
		oldest = min
	}

	if oldest > latest {
		return nil, fmt.Errorf("oldest id %d is past the latest id %d", oldest, latest)
	}
	ids := make([]int64, 0, latest-oldest+1)
	for id := oldest; id <= latest; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// stageAll fans the staging work out over a bounded worker pool and joins
// before returning. Each id gets its own outcome slot, so no task shares
// mutable state with another and no failure aborts a sibling.
func (d *Driver) stageAll(ctx context.Context, stager *Stager, ids []int64) []StageResult {
	results := make([]StageResult, len(ids))
	var g errgroup.Group
	g.SetLimit(d.cfg.Pipeline.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = StageResult{ID: id, Err: stager.Stage(ctx, id)}
			return nil
		})
	}
	// Tasks report through results, never through the group.
	_ = g.Wait()
	return results
}
