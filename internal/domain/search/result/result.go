package result

import "time"

// Result is a single authorized search hit.
type Result struct {
	documentID string
	version    int
	score      float64
	snippet    string
	matched    int
	createdAt  time.Time
}

// New creates a search result.
func New(documentID string, version int, score float64, snippet string, matched int, createdAt time.Time) Result {
	return Result{
		documentID: documentID, version: version, score: score,
		snippet: snippet, matched: matched, createdAt: createdAt,
	}
}

// DocumentID returns the document identifier.
func (r *Result) DocumentID() string { return r.documentID }

// Version returns the matched version number.
func (r *Result) Version() int { return r.version }

// Score returns the relevance score.
func (r *Result) Score() float64 { return r.score }

// Snippet returns a text excerpt around the first match.
func (r *Result) Snippet() string { return r.snippet }

// MatchedTerms returns how many distinct query terms matched.
func (r *Result) MatchedTerms() int { return r.matched }

// CreatedAt returns the matched version's timestamp.
func (r *Result) CreatedAt() time.Time { return r.createdAt }

// Page is one window of an authorized, ranked result sequence.
type Page struct {
	Results    []Result
	NextOffset int
	HasMore    bool
}
