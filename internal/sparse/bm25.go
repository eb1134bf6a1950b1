package sparse

import (
	"math"
	"sort"
)

// Okapi BM25 parameters. k1 controls term-frequency saturation, b the
// strength of document-length normalisation.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type posting struct {
	doc int
	tf  int
}

// bm25Index is an immutable inverted index over one corpus generation.
type bm25Index struct {
	ids      []string
	lens     []int
	avgdl    float64
	postings map[string][]posting
	df       map[string]int
}

// newBM25 builds the index over pre-tokenised documents. ids and tokens
// are parallel; ids must already be in deterministic order.
func newBM25(ids []string, tokens [][]string) *bm25Index {
	idx := &bm25Index{
		ids:      ids,
		lens:     make([]int, len(ids)),
		postings: make(map[string][]posting),
		df:       make(map[string]int),
	}
	total := 0
	for doc, toks := range tokens {
		idx.lens[doc] = len(toks)
		total += len(toks)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for t, n := range tf {
			idx.postings[t] = append(idx.postings[t], posting{doc: doc, tf: n})
			idx.df[t]++
		}
	}
	if len(ids) > 0 {
		idx.avgdl = float64(total) / float64(len(ids))
	}
	return idx
}

func (idx *bm25Index) idf(term string) float64 {
	df := idx.df[term]
	if df == 0 {
		return 0
	}
	n := float64(len(idx.ids))
	return math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// search scores the query terms against every document containing at
// least one of them and returns the top k by (score desc, id asc). Scores
// are raw Okapi values; the retriever min-max normalises per batch.
func (idx *bm25Index) search(terms []string, k int) []Hit {
	if k <= 0 || len(idx.ids) == 0 {
		return nil
	}
	scores := make(map[int]float64)
	for _, term := range terms {
		idf := idx.idf(term)
		if idf == 0 {
			continue
		}
		for _, p := range idx.postings[term] {
			tf := float64(p.tf)
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(idx.lens[p.doc])/idx.avgdl)
			scores[p.doc] += idf * tf * (bm25K1 + 1) / denom
		}
	}
	hits := make([]Hit, 0, len(scores))
	for doc, s := range scores {
		hits = append(hits, Hit{ID: idx.ids[doc], Score: s})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
