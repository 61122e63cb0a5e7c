// Package snapshot reads, merges and writes the authoritative parquet
// table of all known movies.
package snapshot

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/alimane/tmdb-pipeline/pkg/record"
)

// movieRow is the parquet schema of the snapshot table. Every metadata
// column is an optional UTF8 string per the normalization rule; id is the
// dedup key.
type movieRow struct {
	ID                  int64   `parquet:"name=id, type=INT64"`
	Title               *string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	OriginalTitle       *string `parquet:"name=original_title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	OriginalLanguage    *string `parquet:"name=original_language, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Overview            *string `parquet:"name=overview, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Tagline             *string `parquet:"name=tagline, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ReleaseDate         *string `parquet:"name=release_date, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Status              *string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Homepage            *string `parquet:"name=homepage, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ImdbID              *string `parquet:"name=imdb_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Adult               *string `parquet:"name=adult, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Video               *string `parquet:"name=video, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Popularity          *string `parquet:"name=popularity, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	VoteAverage         *string `parquet:"name=vote_average, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	VoteCount           *string `parquet:"name=vote_count, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Runtime             *string `parquet:"name=runtime, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Budget              *string `parquet:"name=budget, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Revenue             *string `parquet:"name=revenue, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Genres              *string `parquet:"name=genres, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ProductionCompanies *string `parquet:"name=production_companies, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ProductionCountries *string `parquet:"name=production_countries, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SpokenLanguages     *string `parquet:"name=spoken_languages, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	OriginCountry       *string `parquet:"name=origin_country, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BelongsToCollection *string `parquet:"name=belongs_to_collection, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PosterPath          *string `parquet:"name=poster_path, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BackdropPath        *string `parquet:"name=backdrop_path, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Keywords            *string `parquet:"name=keywords, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// columns maps record field names to their movieRow slots, for both
// conversion directions.
var columns = []struct {
	name string
	slot func(*movieRow) **string
}{
	{"title", func(r *movieRow) **string { return &r.Title }},
	{"original_title", func(r *movieRow) **string { return &r.OriginalTitle }},
	{"original_language", func(r *movieRow) **string { return &r.OriginalLanguage }},
	{"overview", func(r *movieRow) **string { return &r.Overview }},
	{"tagline", func(r *movieRow) **string { return &r.Tagline }},
	{"release_date", func(r *movieRow) **string { return &r.ReleaseDate }},
	{"status", func(r *movieRow) **string { return &r.Status }},
	{"homepage", func(r *movieRow) **string { return &r.Homepage }},
	{"imdb_id", func(r *movieRow) **string { return &r.ImdbID }},
	{"adult", func(r *movieRow) **string { return &r.Adult }},
	{"video", func(r *movieRow) **string { return &r.Video }},
	{"popularity", func(r *movieRow) **string { return &r.Popularity }},
	{"vote_average", func(r *movieRow) **string { return &r.VoteAverage }},
	{"vote_count", func(r *movieRow) **string { return &r.VoteCount }},
	{"runtime", func(r *movieRow) **string { return &r.Runtime }},
	{"budget", func(r *movieRow) **string { return &r.Budget }},
	{"revenue", func(r *movieRow) **string { return &r.Revenue }},
	{"genres", func(r *movieRow) **string { return &r.Genres }},
	{"production_companies", func(r *movieRow) **string { return &r.ProductionCompanies }},
	{"production_countries", func(r *movieRow) **string { return &r.ProductionCountries }},
	{"spoken_languages", func(r *movieRow) **string { return &r.SpokenLanguages }},
	{"origin_country", func(r *movieRow) **string { return &r.OriginCountry }},
	{"belongs_to_collection", func(r *movieRow) **string { return &r.BelongsToCollection }},
	{"poster_path", func(r *movieRow) **string { return &r.PosterPath }},
	{"backdrop_path", func(r *movieRow) **string { return &r.BackdropPath }},
	{"keywords", func(r *movieRow) **string { return &r.Keywords }},
}

func rowFromRecord(rec record.Record) movieRow {
	row := movieRow{ID: rec.ID}
	for _, c := range columns {
		if v, ok := rec.Fields[c.name]; ok && !v.Null {
			s := v.Str
			*c.slot(&row) = &s
		}
	}
	return row
}

func (r *movieRow) record() record.Record {
	rec := record.Record{ID: r.ID, Fields: make(map[string]record.Value, len(columns))}
	for _, c := range columns {
		if p := *c.slot(r); p != nil {
			rec.Fields[c.name] = record.String(*p)
		} else {
			rec.Fields[c.name] = record.Null()
		}
	}
	return rec
}

// Decode reads a full parquet snapshot into memory.
func Decode(data []byte) ([]record.Record, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(movieRow), 1)
	if err != nil {
		return nil, &record.ParseError{Reason: "open parquet snapshot", Err: err}
	}
	defer pr.ReadStop()

	remaining := int(pr.GetNumRows())
	recs := make([]record.Record, 0, remaining)
	for remaining > 0 {
		batch := remaining
		if batch > 1024 {
			batch = 1024
		}
		rows := make([]movieRow, batch)
		if err := pr.Read(&rows); err != nil {
			return nil, &record.ParseError{Reason: "read parquet snapshot", Err: err}
		}
		for i := range rows {
			recs = append(recs, rows[i].record())
		}
		remaining -= batch
	}
	return recs, nil
}

// Encode writes records as a parquet table in memory. Nothing touches the
// store here; the caller overwrites the snapshot only once encoding has
// fully succeeded.
func Encode(recs []record.Record) ([]byte, error) {
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(movieRow), 1)
	if err != nil {
		return nil, &record.ParseError{Reason: "create parquet writer", Err: err}
	}
	for _, rec := range recs {
		if err := pw.Write(rowFromRecord(rec)); err != nil {
			return nil, &record.ParseError{Reason: fmt.Sprintf("write parquet row id=%d", rec.ID), Err: err}
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, &record.ParseError{Reason: "finalize parquet snapshot", Err: err}
	}
	return fw.Bytes(), nil
}

// Merge concatenates updates after existing and deduplicates by id,
// keeping the last occurrence so updates override existing rows with the
// same id. First-appearance order is preserved.
func Merge(existing, updates []record.Record) []record.Record {
	all := make([]record.Record, 0, len(existing)+len(updates))
	all = append(all, existing...)
	all = append(all, updates...)

	last := make(map[int64]record.Record, len(all))
	order := make([]int64, 0, len(all))
	for _, rec := range all {
		if _, seen := last[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		last[rec.ID] = rec
	}

	merged := make([]record.Record, 0, len(order))
	for _, id := range order {
		merged = append(merged, last[id])
	}
	return merged
}

// MinID returns the smallest id present in recs.
func MinID(recs []record.Record) (int64, bool) {
	if len(recs) == 0 {
		return 0, false
	}
	min := recs[0].ID
	for _, rec := range recs[1:] {
		if rec.ID < min {
			min = rec.ID
		}
	}
	return min, true
}

// PublicURL derives the plain-HTTPS address where third parties can read
// the snapshot directly from the object store.
func PublicURL(server, bucket, path string) string {
	return fmt.Sprintf("https://%s/%s/%s", server, bucket, path)
}
