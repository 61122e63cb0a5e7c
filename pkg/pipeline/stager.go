package pipeline

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/record"
	"github.com/alimane/tmdb-pipeline/pkg/tmdb"
)

// Stager fetches one movie's detail and keywords and writes the merged
// record to the staging area.
type Stager struct {
	fetcher tmdb.Fetcher
	store   blob.Store
	bucket  string
	prefix  string
}

// NewStager creates a Stager writing below the run-scoped prefix.
func NewStager(fetcher tmdb.Fetcher, store blob.Store, bucket, prefix string) *Stager {
	return &Stager{fetcher: fetcher, store: store, bucket: bucket, prefix: prefix}
}

// Stage fetches the movie's detail and keywords, folds the keyword names
// into the record as one comma-joined field and writes it as a one-line
// JSON document. A failure aborts only this id; sibling ids in the same
// batch are unaffected.
func (s *Stager) Stage(ctx context.Context, id int64) error {
	rec, err := s.fetcher.MovieDetails(ctx, id)
	if err != nil {
		return err
	}
	keywords, err := s.fetcher.MovieKeywords(ctx, id)
	if err != nil {
		return err
	}
	rec.Fields["keywords"] = record.String(strings.Join(keywords, ", "))

	data, err := json.Marshal(rec)
	if err != nil {
		return &record.ParseError{Reason: fmt.Sprintf("serialize staged record id=%d", id), Err: err}
	}
	return s.store.Put(ctx, s.bucket, StagedPath(s.prefix, id), data)
}

// StagedPath is the deterministic location of one staged movie record.
func StagedPath(prefix string, id int64) string {
	return fmt.Sprintf("%s/movie_%d.json", prefix, id)
}
