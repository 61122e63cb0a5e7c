package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/config"
	"github.com/alimane/tmdb-pipeline/pkg/record"
	"github.com/alimane/tmdb-pipeline/pkg/snapshot"
	"github.com/alimane/tmdb-pipeline/pkg/tmdb"
)

// fakeFetcher serves canned TMDB payloads and can fail selectively.
type fakeFetcher struct {
	latest       int64
	titles       map[int64]string
	keywords     map[int64][]string
	failKeywords map[int64]bool
}

func (f *fakeFetcher) LatestMovieID(context.Context) (int64, error) {
	return f.latest, nil
}

func (f *fakeFetcher) MovieDetails(_ context.Context, id int64) (record.Record, error) {
	title, ok := f.titles[id]
	if !ok {
		return record.Record{}, &tmdb.RemoteError{Endpoint: fmt.Sprintf("/movie/%d", id), StatusCode: 404}
	}
	return record.Normalize(map[string]any{"id": id, "title": title})
}

func (f *fakeFetcher) MovieKeywords(_ context.Context, id int64) ([]string, error) {
	if f.failKeywords[id] {
		return nil, &tmdb.RemoteError{Endpoint: fmt.Sprintf("/movie/%d/keywords", id), StatusCode: 500}
	}
	return f.keywords[id], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Minio: config.MinioConfig{Bucket: "data"},
		Pipeline: config.PipelineConfig{
			StagingPrefix: "diffusion/temp_data",
			ArchivePrefix: "diffusion/TMDB_archive",
			SnapshotPath:  "diffusion/TMDB_movies.parquet",
			Workers:       3,
		},
	}
}

func newBucket(t *testing.T, bucket string) *blob.MemoryStore {
	t.Helper()
	store := blob.NewMemoryStore()
	if err := store.MakeBucket(context.Background(), bucket); err != nil {
		t.Fatalf("MakeBucket() error: %v", err)
	}
	return store
}

func seedSnapshot(t *testing.T, store blob.Store, path string, recs []record.Record) {
	t.Helper()
	data, err := snapshot.Encode(recs)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if err := store.Put(context.Background(), "data", path, data); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func movie(id int64, title string) record.Record {
	return record.Record{ID: id, Fields: map[string]record.Value{"title": record.String(title)}}
}

func TestStagerWritesMergedRecord(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	fetcher := &fakeFetcher{
		titles:   map[int64]string{42: "Answer"},
		keywords: map[int64][]string{42: {"space", "time"}},
	}

	s := NewStager(fetcher, store, "data", "staging/run")
	if err := s.Stage(ctx, 42); err != nil {
		t.Fatalf("Stage() error: %v", err)
	}

	data, err := store.Get(ctx, "data", StagedPath("staging/run", 42))
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if strings.ContainsRune(strings.TrimSpace(string(data)), '\n') {
		t.Error("staged record must be a single-line document")
	}

	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if rec.ID != 42 {
		t.Errorf("ID = %d, want 42", rec.ID)
	}
	if got := rec.Fields["keywords"].Str; got != "space, time" {
		t.Errorf("keywords = %q, want %q", got, "space, time")
	}
}

func TestStagingFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	fetcher := &fakeFetcher{
		latest:       3,
		titles:       map[int64]string{1: "One", 2: "Two", 3: "Three"},
		keywords:     map[int64][]string{},
		failKeywords: map[int64]bool{2: true},
	}
	cfg := testConfig()

	d := NewDriver(fetcher, store, cfg)
	stager := NewStager(fetcher, store, "data", "staging/run")
	results := d.stageAll(ctx, stager, []int64{1, 2, 3})

	var failed []int64
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.ID)
		}
	}
	if len(failed) != 1 || failed[0] != 2 {
		t.Fatalf("failed ids = %v, want [2]", failed)
	}
	for _, id := range []int64{1, 3} {
		if _, err := store.Get(ctx, "data", StagedPath("staging/run", id)); err != nil {
			t.Errorf("id %d should be staged despite id 2 failing: %v", id, err)
		}
	}
	if _, err := store.Get(ctx, "data", StagedPath("staging/run", 2)); err == nil {
		t.Error("id 2 should not have been staged")
	}
}

func TestCombineAndUpload(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	c := NewCombiner(store, "data")

	// Write staged blobs in an arbitrary order; the combined set must not
	// depend on it.
	for _, r := range []record.Record{movie(3, "C"), movie(1, "A"), movie(2, "B")} {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if err := store.Put(ctx, "data", StagedPath("staging/run", r.ID), data); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	n, err := c.CombineAndUpload(ctx, "staging/run", "archive/combined.json")
	if err != nil {
		t.Fatalf("CombineAndUpload() error: %v", err)
	}
	if n != 3 {
		t.Errorf("combined %d records, want 3", n)
	}

	data, err := store.Get(ctx, "data", "archive/combined.json")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	var recs []record.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	got := make(map[int64]string, len(recs))
	for _, r := range recs {
		got[r.ID] = r.Fields["title"].Str
	}
	want := map[int64]string{1: "A", 2: "B", 3: "C"}
	for id, title := range want {
		if got[id] != title {
			t.Errorf("archive[%d] = %q, want %q", id, got[id], title)
		}
	}

	// Staged blobs are left in place.
	if _, err := store.Get(ctx, "data", StagedPath("staging/run", 1)); err != nil {
		t.Errorf("staged blob should survive combining: %v", err)
	}
}

func TestCombineEmptyPrefix(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	c := NewCombiner(store, "data")

	n, err := c.CombineAndUpload(ctx, "staging/empty", "archive/combined.json")
	if err != nil {
		t.Fatalf("CombineAndUpload() error: %v", err)
	}
	if n != 0 {
		t.Errorf("combined %d records, want 0", n)
	}
	data, err := store.Get(ctx, "data", "archive/combined.json")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("empty archive = %s, want []", data)
	}
}

func TestUpdateSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	seedSnapshot(t, store, "snap.parquet", []record.Record{
		movie(1, "One"), movie(2, "Old"), movie(3, "Three"),
	})

	archive := []record.Record{movie(2, "New"), movie(4, "Four")}
	archData, err := json.Marshal(archive)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if err := store.Put(ctx, "data", "archive.json", archData); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	u := NewUpdater(store, "data")
	n, err := u.UpdateSnapshot(ctx, "snap.parquet", "archive.json")
	if err != nil {
		t.Fatalf("UpdateSnapshot() error: %v", err)
	}
	if n != 4 {
		t.Errorf("merged %d rows, want 4", n)
	}

	data, err := store.Get(ctx, "data", "snap.parquet")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	recs, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	byID := make(map[int64]record.Record, len(recs))
	for _, r := range recs {
		if _, dup := byID[r.ID]; dup {
			t.Fatalf("duplicate id %d in updated snapshot", r.ID)
		}
		byID[r.ID] = r
	}
	if len(byID) != 4 {
		t.Fatalf("snapshot has ids %v, want {1,2,3,4}", byID)
	}
	if got := byID[2].Fields["title"].Str; got != "New" {
		t.Errorf("id 2 title = %q, want New", got)
	}
}

func TestUpdateSnapshotBadArchiveLeavesSnapshotIntact(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	seedSnapshot(t, store, "snap.parquet", []record.Record{movie(1, "One")})
	before, err := store.Get(ctx, "data", "snap.parquet")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if err := store.Put(ctx, "data", "archive.json", []byte("not json")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	u := NewUpdater(store, "data")
	if _, err := u.UpdateSnapshot(ctx, "snap.parquet", "archive.json"); err == nil {
		t.Fatal("expected an error for a malformed archive")
	}

	after, err := store.Get(ctx, "data", "snap.parquet")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(before) != string(after) {
		t.Error("a failed update must leave the prior snapshot intact")
	}
}

func TestDetermineRangeLookBackWindow(t *testing.T) {
	store := newBucket(t, "data")
	cfg := testConfig()
	cfg.Pipeline.LookBackWindow = 400
	d := NewDriver(&fakeFetcher{latest: 1000}, store, cfg)

	ids, err := d.determineRange(context.Background())
	if err != nil {
		t.Fatalf("determineRange() error: %v", err)
	}
	if len(ids) != 401 {
		t.Fatalf("got %d candidate ids, want 401", len(ids))
	}
	if ids[0] != 600 || ids[len(ids)-1] != 1000 {
		t.Errorf("range = [%d, %d], want [600, 1000]", ids[0], ids[len(ids)-1])
	}
}

func TestDetermineRangeFullRange(t *testing.T) {
	store := newBucket(t, "data")
	cfg := testConfig()
	seedSnapshot(t, store, cfg.Pipeline.SnapshotPath, []record.Record{
		movie(7, "Seven"), movie(5, "Five"), movie(9, "Nine"),
	})
	d := NewDriver(&fakeFetcher{latest: 12}, store, cfg)

	ids, err := d.determineRange(context.Background())
	if err != nil {
		t.Fatalf("determineRange() error: %v", err)
	}
	if ids[0] != 5 || ids[len(ids)-1] != 12 || len(ids) != 8 {
		t.Errorf("range = [%d, %d] (%d ids), want [5, 12] (8 ids)", ids[0], ids[len(ids)-1], len(ids))
	}
}

func TestDriverRun(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	cfg := testConfig()
	seedSnapshot(t, store, cfg.Pipeline.SnapshotPath, []record.Record{
		movie(1, "One"), movie(2, "Old"),
	})

	fetcher := &fakeFetcher{
		latest: 4,
		titles: map[int64]string{1: "One", 2: "New", 3: "Three", 4: "Four"},
		keywords: map[int64][]string{
			2: {"remake"},
		},
	}
	d := NewDriver(fetcher, store, cfg)
	d.now = func() time.Time { return time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC) }

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The run archive exists at the dated path.
	if _, err := store.Get(ctx, "data", "diffusion/TMDB_archive/combined_2024-05-17.json"); err != nil {
		t.Errorf("archive missing: %v", err)
	}

	data, err := store.Get(ctx, "data", cfg.Pipeline.SnapshotPath)
	if err != nil {
		t.Fatalf("Get() snapshot error: %v", err)
	}
	recs, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	byID := make(map[int64]record.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	if len(byID) != 4 {
		t.Fatalf("snapshot has %d rows, want 4", len(byID))
	}
	if got := byID[2].Fields["title"].Str; got != "New" {
		t.Errorf("id 2 title = %q, want New", got)
	}
	if got := byID[2].Fields["keywords"].Str; got != "remake" {
		t.Errorf("id 2 keywords = %q, want remake", got)
	}
}

func TestDriverRunFailedStage(t *testing.T) {
	ctx := context.Background()
	store := newBucket(t, "data")
	cfg := testConfig()
	// No snapshot seeded: DetermineRange must fail and name its stage.
	d := NewDriver(&fakeFetcher{latest: 3}, store, cfg)

	err := d.Run(ctx)
	if err == nil {
		t.Fatal("expected Run() to fail without a snapshot")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error %v is not a RunError", err)
	}
	if runErr.Stage != StageDetermineRange {
		t.Errorf("failed stage = %q, want %q", runErr.Stage, StageDetermineRange)
	}
}
