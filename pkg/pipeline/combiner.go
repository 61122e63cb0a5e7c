package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/record"
)

// Combiner folds every staged blob under a prefix into a single archive
// blob.
type Combiner struct {
	store  blob.Store
	bucket string
}

func NewCombiner(store blob.Store, bucket string) *Combiner {
	return &Combiner{store: store, bucket: bucket}
}

// CombineAndUpload lists the staged blobs under prefix in store order,
// parses each as newline-delimited JSON records and writes them all as
// one JSON array to archivePath. Any listing or read failure discards the
// partial accumulation; nothing is written in that case. The combined set
// does not depend on the listing order.
func (c *Combiner) CombineAndUpload(ctx context.Context, prefix, archivePath string) (int, error) {
	paths, err := c.store.List(ctx, c.bucket, prefix, true)
	if err != nil {
		return 0, err
	}

	combined := make([]record.Record, 0, len(paths))
	for _, path := range paths {
		data, err := c.store.Get(ctx, c.bucket, path)
		if err != nil {
			return 0, err
		}
		recs, err := parseStaged(data)
		if err != nil {
			return 0, fmt.Errorf("staged blob %s: %w", path, err)
		}
		combined = append(combined, recs...)
	}

	data, err := json.Marshal(combined)
	if err != nil {
		return 0, &record.ParseError{Reason: "serialize archive", Err: err}
	}
	if err := c.store.Put(ctx, c.bucket, archivePath, data); err != nil {
		return 0, err
	}
	return len(combined), nil
}

// parseStaged reads newline-delimited JSON records; a staged blob holding
// one single-line object is the degenerate one-record case.
func parseStaged(data []byte) ([]record.Record, error) {
	var recs []record.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, &record.ParseError{Reason: "scan staged records", Err: err}
	}
	return recs, nil
}
