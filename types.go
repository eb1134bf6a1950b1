package kioku

// IndexPoint is one incident's entry in a VectorIndex: its embedding plus
// the payload read back at query time. The incident id is carried in the
// payload as well because backends may require their own point id format.
// No internal package imports — safe to use from outside the module.
type IndexPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// IndexHit is an incident id with its raw cosine similarity, as returned
// by a VectorIndex query. The engine hydrates the full incident from the
// corpus store, which stays the source of truth.
type IndexHit struct {
	ID    string
	Score float64
}

// IndexFilter restricts a VectorIndex query to points whose payload
// matches. The zero value matches everything. Tags is any-of; Category
// and Priority are exact matches.
type IndexFilter struct {
	Tags     []string
	Category string
	Priority string
}
