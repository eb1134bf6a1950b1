package sparse

import (
	"math"
	"sort"
)

// maxTFIDFFeatures bounds the vocabulary. When the corpus produces more
// distinct 1-2 grams than this, the most document-frequent survive.
const maxTFIDFFeatures = 5000

// minTFIDFSimilarity filters near-zero cosine noise from the result set.
const minTFIDFSimilarity = 0.01

type tfidfPosting struct {
	doc    int
	weight float64
}

// tfidfIndex holds L2-normalised tf-idf document vectors over 1-2 grams,
// stored as per-feature posting lists. Because both document and query
// vectors are unit length, an accumulated dot product is the cosine.
type tfidfIndex struct {
	ids      []string
	vocab    map[string]int
	idf      []float64
	postings [][]tfidfPosting
}

// newTFIDF builds the index over pre-tokenised documents; grams are
// derived here so BM25 and TF-IDF can share one tokenisation pass.
func newTFIDF(ids []string, tokens [][]string) *tfidfIndex {
	grams := make([][]string, len(tokens))
	df := make(map[string]int)
	for doc, toks := range tokens {
		grams[doc] = ngrams(toks)
		seen := make(map[string]struct{}, len(grams[doc]))
		for _, g := range grams[doc] {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			df[g]++
		}
	}

	idx := &tfidfIndex{
		ids:   ids,
		vocab: selectFeatures(df),
	}
	idx.idf = make([]float64, len(idx.vocab))
	idx.postings = make([][]tfidfPosting, len(idx.vocab))
	n := float64(len(ids))
	for g, f := range idx.vocab {
		idx.idf[f] = math.Log(n/float64(df[g])) + 1
	}

	for doc := range grams {
		vec := idx.vectorize(grams[doc])
		for f, w := range vec {
			idx.postings[f] = append(idx.postings[f], tfidfPosting{doc: doc, weight: w})
		}
	}
	return idx
}

// selectFeatures keeps at most maxTFIDFFeatures grams, preferring higher
// document frequency; ties fall back to lexicographic order so feature
// selection is stable across rebuilds of the same corpus.
func selectFeatures(df map[string]int) map[string]int {
	grams := make([]string, 0, len(df))
	for g := range df {
		grams = append(grams, g)
	}
	sort.Slice(grams, func(i, j int) bool {
		if df[grams[i]] != df[grams[j]] {
			return df[grams[i]] > df[grams[j]]
		}
		return grams[i] < grams[j]
	})
	if len(grams) > maxTFIDFFeatures {
		grams = grams[:maxTFIDFFeatures]
	}
	vocab := make(map[string]int, len(grams))
	for i, g := range grams {
		vocab[g] = i
	}
	return vocab
}

// vectorize maps grams onto the fixed vocabulary and returns an
// L2-normalised sparse tf-idf vector keyed by feature index.
func (idx *tfidfIndex) vectorize(grams []string) map[int]float64 {
	vec := make(map[int]float64)
	for _, g := range grams {
		if f, ok := idx.vocab[g]; ok {
			vec[f]++
		}
	}
	var norm float64
	for f := range vec {
		vec[f] *= idx.idf[f]
		norm += vec[f] * vec[f]
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for f := range vec {
		vec[f] /= norm
	}
	return vec
}

// search returns the top k documents by cosine similarity (desc, id asc).
func (idx *tfidfIndex) search(grams []string, k int) []Hit {
	if k <= 0 || len(idx.ids) == 0 {
		return nil
	}
	query := idx.vectorize(grams)
	if len(query) == 0 {
		return nil
	}
	scores := make(map[int]float64)
	for f, qw := range query {
		for _, p := range idx.postings[f] {
			scores[p.doc] += qw * p.weight
		}
	}
	hits := make([]Hit, 0, len(scores))
	for doc, s := range scores {
		if s < minTFIDFSimilarity {
			continue
		}
		hits = append(hits, Hit{ID: idx.ids[doc], Score: s})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
