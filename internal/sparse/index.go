// Package sparse maintains the in-memory keyword indexes (Okapi BM25 and
// a tf-idf matrix over 1-2 grams) that back the lexical arms of hybrid
// retrieval. Both structures live inside an immutable Snapshot; writers
// build a fresh snapshot offline and publish it with one atomic pointer
// swap, so searches never take a lock.
package sparse

import (
	"sort"
	"sync/atomic"
	"time"
)

// Hit is one scored document. BM25 hits are min-max normalised within
// their batch; tf-idf hits carry raw cosine similarity. Both land in [0,1].
type Hit struct {
	ID    string
	Score float64
}

// Document pairs an incident id with the text it is indexed under.
type Document struct {
	ID   string
	Text string
}

// Stats describes the published snapshot.
type Stats struct {
	Docs     int       `json:"docs"`
	Terms    int       `json:"terms"`
	Features int       `json:"features"`
	BuiltAt  time.Time `json:"built_at"`
}

// Snapshot is one immutable generation of both indexes. Readers that
// loaded a snapshot keep searching it even while a newer one is being
// published; they observe the swap on their next search.
type Snapshot struct {
	bm25    *bm25Index
	tfidf   *tfidfIndex
	docs    map[string]string
	builtAt time.Time
}

func buildSnapshot(docs map[string]string) *Snapshot {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tokens := make([][]string, len(ids))
	for i, id := range ids {
		tokens[i] = Tokenize(docs[id])
	}
	return &Snapshot{
		bm25:    newBM25(ids, tokens),
		tfidf:   newTFIDF(ids, tokens),
		docs:    docs,
		builtAt: time.Now().UTC(),
	}
}

// SearchBM25 scores the query against the snapshot's BM25 index and
// min-max normalises the batch to [0,1]. When every raw score in the
// batch is equal the whole batch maps to 1.0.
func (s *Snapshot) SearchBM25(text string, k int) []Hit {
	hits := s.bm25.search(Tokenize(text), k)
	return normalizeMinMax(hits)
}

// SearchTFIDF scores the query by cosine similarity over 1-2 grams.
func (s *Snapshot) SearchTFIDF(text string, k int) []Hit {
	return s.tfidf.search(ngrams(Tokenize(text)), k)
}

// Stats reports snapshot dimensions.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Docs:     len(s.docs),
		Terms:    len(s.bm25.df),
		Features: len(s.tfidf.vocab),
		BuiltAt:  s.builtAt,
	}
}

// Has reports whether id is indexed in this snapshot.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.docs[id]
	return ok
}

// IDs returns every indexed document id, sorted. Audit sweeps compare
// this against corpus membership.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeMinMax(hits []Hit) []Hit {
	if len(hits) == 0 {
		return hits
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	for i := range hits {
		if hi == lo {
			hits[i].Score = 1.0
		} else {
			hits[i].Score = (hits[i].Score - lo) / (hi - lo)
		}
	}
	return hits
}

// Index owns the published snapshot. Mutations rebuild both structures
// from scratch; corpora are small enough (thousands of incidents) that a
// full rebuild is cheaper than incremental index surgery would be to get
// right.
type Index struct {
	snap atomic.Pointer[Snapshot]
}

// NewIndex returns an index with an empty published snapshot, so readers
// never observe a nil pointer.
func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(buildSnapshot(map[string]string{}))
	return idx
}

// Snapshot returns the currently published generation. Callers should
// load once per search so all sub-scores come from the same corpus view.
func (x *Index) Snapshot() *Snapshot {
	return x.snap.Load()
}

// Rebuild replaces the published snapshot with one built from docs.
func (x *Index) Rebuild(docs []Document) *Snapshot {
	m := make(map[string]string, len(docs))
	for _, d := range docs {
		m[d.ID] = d.Text
	}
	snap := buildSnapshot(m)
	x.snap.Store(snap)
	return snap
}

// Patch applies upserts and deletes on top of the published snapshot and
// publishes the result. Deletes win over upserts of the same id.
func (x *Index) Patch(upserts []Document, deletes []string) *Snapshot {
	prev := x.snap.Load()
	m := make(map[string]string, len(prev.docs)+len(upserts))
	for id, text := range prev.docs {
		m[id] = text
	}
	for _, d := range upserts {
		m[d.ID] = d.Text
	}
	for _, id := range deletes {
		delete(m, id)
	}
	snap := buildSnapshot(m)
	x.snap.Store(snap)
	return snap
}

// SearchBM25 searches the currently published snapshot.
func (x *Index) SearchBM25(text string, k int) []Hit {
	return x.snap.Load().SearchBM25(text, k)
}

// SearchTFIDF searches the currently published snapshot.
func (x *Index) SearchTFIDF(text string, k int) []Hit {
	return x.snap.Load().SearchTFIDF(text, k)
}

// Stats reports the published snapshot's dimensions.
func (x *Index) Stats() Stats {
	return x.snap.Load().Stats()
}
