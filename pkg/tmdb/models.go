package tmdb

// latestResponse is the payload of the /movie/latest endpoint; only the
// id matters for range selection.
type latestResponse struct {
	ID int64 `json:"id"`
}

// Keyword is one tag attached to a movie.
type Keyword struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// keywordsResponse is the payload of the /movie/{id}/keywords endpoint.
type keywordsResponse struct {
	ID       int64     `json:"id"`
	Keywords []Keyword `json:"keywords"`
}
