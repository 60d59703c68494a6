// Package index keeps the in-memory inverted index over document versions
// and runs permission-aware ranked search on it.
package index

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/search/filter"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/domain/search/result"
	"github.com/rfpdesk/docvault/internal/metrics"
)

const defaultSnippetLength = 160

// field identifies where a term occurred.
type field uint8

const (
	fieldText field = 1 << iota
	fieldFilename
	fieldType
	fieldNotes
)

type entryKey struct {
	documentID string
	version    int
}

type posting struct {
	tf     int
	fields field
}

// entry is the projection of one indexed version.
type entry struct {
	key       entryKey
	createdAt time.Time
	text      string
	filename  string
	fields    filter.Fields
	terms     []string
}

type docState struct {
	head       int
	tombstoned bool
	closure    access.Closure
	hasClosure bool
	entries    map[int]*entry
}

// LiveChecker makes the final view decision for a hit. It must consult the
// ledger and the grant set directly, never the cached closure.
type LiveChecker interface {
	CanView(ctx context.Context, principal, documentID string) (bool, error)
}

// Index is safe for concurrent use. Writers take the lock only for the
// posting update; searches copy candidates out under a read lock and do all
// ranking and authorization afterwards.
type Index struct {
	mu         sync.RWMutex
	postings   map[string]map[entryKey]posting
	docs       map[string]*docState
	entries    int
	live       LiveChecker
	snippetLen int
}

// New creates an empty index.
func New(live LiveChecker) *Index {
	return &Index{
		postings:   make(map[string]map[entryKey]posting),
		docs:       make(map[string]*docState),
		live:       live,
		snippetLen: defaultSnippetLength,
	}
}

// WithSnippetLength sets the snippet size in runes.
func (ix *Index) WithSnippetLength(n int) *Index {
	if n > 0 {
		ix.snippetLen = n
	}
	return ix
}

func (ix *Index) state(id string) *docState {
	st, ok := ix.docs[id]
	if !ok {
		st = &docState{entries: make(map[int]*entry)}
		ix.docs[id] = st
	}
	return st
}

// IndexVersion adds v to the index. Indexing the same version again is a
// no-op. A newer version becomes the document's current one; older versions
// stay reachable through history searches. Tombstone versions remove the
// document.
func (ix *Index) IndexVersion(doc *domdoc.Document, v *domdoc.Version) {
	if v.Tombstone() {
		ix.RemoveDocument(doc.ID())
		return
	}

	content := v.Content()
	terms := make(map[string]posting)
	add := func(text string, f field) {
		for _, t := range Tokenize(text) {
			p := terms[t]
			p.tf++
			p.fields |= f
			terms[t] = p
		}
	}
	add(v.Text(), fieldText)
	add(content.Filename, fieldFilename)
	add(doc.Type(), fieldType)
	add(v.Notes(), fieldNotes)

	e := &entry{
		key:       entryKey{documentID: doc.ID(), version: v.Number()},
		createdAt: v.CreatedAt(),
		text:      v.Text(),
		filename:  content.Filename,
		fields: filter.Fields{
			Tags: map[string]string{
				filter.KeyRFP:      doc.RFPID(),
				filter.KeyDocType:  doc.Type(),
				filter.KeyMimeType: content.MimeType,
			},
			Numerics: map[string]float64{
				filter.KeyCreatedAt: float64(v.CreatedAt().Unix()),
				filter.KeySize:      float64(content.Size),
			},
		},
		terms: make([]string, 0, len(terms)),
	}
	for t := range terms {
		e.terms = append(e.terms, t)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	st := ix.state(doc.ID())
	if st.tombstoned {
		return
	}
	if _, ok := st.entries[v.Number()]; ok {
		return
	}
	st.entries[v.Number()] = e
	st.head = max(st.head, v.Number())
	for t, p := range terms {
		m, ok := ix.postings[t]
		if !ok {
			m = make(map[entryKey]posting)
			ix.postings[t] = m
		}
		m[e.key] = p
	}
	ix.entries++
	metrics.IndexEntries.Set(float64(ix.entries))
}

// RemoveDocument tombstones every posting of the document. Versions that
// arrive later are ignored.
func (ix *Index) RemoveDocument(documentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.state(documentID).tombstoned = true
}

// UpdateVisibility replaces the cached closure of the document.
func (ix *Index) UpdateVisibility(documentID string, c access.Closure) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	st := ix.state(documentID)
	st.closure = c
	st.hasClosure = true
}

// Head returns the highest indexed version of the document and whether the
// document is tombstoned in the index.
func (ix *Index) Head(documentID string) (version int, tombstoned bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	st, ok := ix.docs[documentID]
	if !ok {
		return 0, false
	}
	return st.head, st.tombstoned
}

// Len returns the number of indexed versions.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entries
}

type candidate struct {
	e       *entry
	matched int
	tf      int
	fields  field
	closure access.Closure
}

// Search yields authorized hits for subject in rank order: more distinct
// query terms first, then higher aggregate term frequency, then the newest
// version. Tombstoned documents never surface. Every hit passes the live
// check before it is yielded; an evaluation failure ends the sequence with
// that error. The sequence is a pure read and may be abandoned at any point.
func (ix *Index) Search(ctx context.Context, subject access.Subject, req request.Request) iter.Seq2[result.Result, error] {
	return func(yield func(result.Result, error) bool) {
		start := time.Now()
		defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

		terms := distinct(Tokenize(req.Query()))
		if len(terms) == 0 {
			return
		}
		cands := ix.candidates(terms, req.IncludeHistory())

		filters := req.Filters()
		kept := cands[:0]
		for _, c := range cands {
			switch {
			case !filters.Matches(c.e.fields):
				metrics.SearchHitsFilteredTotal.WithLabelValues("filter").Inc()
			case !c.closure.Admits(subject):
				metrics.SearchHitsFilteredTotal.WithLabelValues("closure").Inc()
			default:
				kept = append(kept, c)
			}
		}
		slices.SortFunc(kept, compareCandidates)

		decisions := make(map[string]bool)
		for _, c := range kept {
			id := c.e.key.documentID
			ok, seen := decisions[id]
			if !seen {
				var err error
				ok, err = ix.live.CanView(ctx, subject.Principal, id)
				switch {
				case errors.Is(err, domain.ErrNotFound):
					ok = false
				case err != nil:
					yield(result.Result{}, err)
					return
				}
				decisions[id] = ok
			}
			if !ok {
				metrics.SearchHitsFilteredTotal.WithLabelValues("recheck").Inc()
				continue
			}
			if !yield(ix.toResult(c, terms), nil) {
				return
			}
		}
	}
}

func (ix *Index) candidates(terms []string, history bool) []candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	byKey := make(map[entryKey]*candidate)
	for _, t := range terms {
		for key, p := range ix.postings[t] {
			st := ix.docs[key.documentID]
			if st.tombstoned || !st.hasClosure {
				continue
			}
			if !history && key.version != st.head {
				continue
			}
			c, ok := byKey[key]
			if !ok {
				c = &candidate{e: st.entries[key.version], closure: st.closure}
				byKey[key] = c
			}
			c.matched++
			c.tf += p.tf
			c.fields |= p.fields
		}
	}
	out := make([]candidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, *c)
	}
	return out
}

func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(b.matched, a.matched); c != 0 {
		return c
	}
	if c := cmp.Compare(b.tf, a.tf); c != 0 {
		return c
	}
	if c := b.e.createdAt.Compare(a.e.createdAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.e.key.documentID, b.e.key.documentID); c != 0 {
		return c
	}
	return cmp.Compare(b.e.key.version, a.e.key.version)
}

func score(matched, tf int) float64 {
	return float64(matched) + float64(tf)/float64(tf+1)
}

func (ix *Index) toResult(c candidate, terms []string) result.Result {
	text := c.e.text
	if c.fields&fieldText == 0 {
		text = c.e.filename
	}
	return result.New(
		c.e.key.documentID, c.e.key.version, score(c.matched, c.tf),
		snippet(text, terms, ix.snippetLen), c.matched, c.e.createdAt,
	)
}

// Page collects one window of the authorized sequence. Offsets count
// authorized hits, so the next page starts at NextOffset.
func (ix *Index) Page(ctx context.Context, subject access.Subject, req request.Request) (result.Page, error) {
	page := result.Page{Results: []result.Result{}, NextOffset: req.Offset()}
	skipped := 0
	for r, err := range ix.Search(ctx, subject, req) {
		if err != nil {
			return result.Page{}, err
		}
		if skipped < req.Offset() {
			skipped++
			continue
		}
		if len(page.Results) == req.Limit() {
			page.HasMore = true
			break
		}
		page.Results = append(page.Results, r)
	}
	page.NextOffset = req.Offset() + len(page.Results)
	return page, nil
}
