package pipeline

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/record"
	"github.com/alimane/tmdb-pipeline/pkg/snapshot"
)

// Updater merges one run's archive into the authoritative snapshot.
type Updater struct {
	store  blob.Store
	bucket string
}

func NewUpdater(store blob.Store, bucket string) *Updater {
	return &Updater{store: store, bucket: bucket}
}

// UpdateSnapshot reads the current snapshot and the archive fully into
// memory, normalizes the archive records, deduplicates by id with archive
// rows winning, and overwrites the snapshot. The write happens only after
// the merged table is fully encoded, so any earlier failure leaves the
// prior snapshot intact. Returns the merged row count.
func (u *Updater) UpdateSnapshot(ctx context.Context, snapshotPath, archivePath string) (int, error) {
	snapData, err := u.store.Get(ctx, u.bucket, snapshotPath)
	if err != nil {
		return 0, err
	}
	existing, err := snapshot.Decode(snapData)
	if err != nil {
		return 0, err
	}

	archData, err := u.store.Get(ctx, u.bucket, archivePath)
	if err != nil {
		return 0, err
	}
	// Record.UnmarshalJSON runs every archive row through Normalize, so
	// old snapshot rows and fresh archive rows meet in the same flat form.
	var updates []record.Record
	if err := json.Unmarshal(archData, &updates); err != nil {
		return 0, &record.ParseError{Reason: "parse archive", Err: err}
	}

	merged := snapshot.Merge(existing, updates)
	data, err := snapshot.Encode(merged)
	if err != nil {
		return 0, err
	}
	if err := u.store.Put(ctx, u.bucket, snapshotPath, data); err != nil {
		return 0, err
	}
	return len(merged), nil
}
