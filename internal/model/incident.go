package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Field length floors for incident records. Records below these floors
// carry too little signal to embed or rank usefully, so ingest quarantines
// them instead of letting them pollute the indexes.
const (
	MinTitleLen       = 10
	MinDescriptionLen = 50
	MinResolutionLen  = 20
)

// PayloadTextLimit caps description and resolution in vector payloads so a
// single verbose incident cannot bloat every search response that cites it.
const PayloadTextLimit = 500

var (
	// incidentIDPattern matches stable incident identifiers: alphabetic
	// prefix, dash, digits (JSP-1234, INC-42). Chat-derived ids carry a
	// channel segment and a message timestamp (SLACK-payments-1718181818).
	incidentIDPattern = regexp.MustCompile(`^[A-Za-z]+-\d+$`)
	slackIDPattern    = regexp.MustCompile(`^SLACK-[A-Za-z0-9_]+-\d+(?:\.\d+)?$`)

	// emailPattern is intentionally loose: resolved_by only needs to look
	// like an address, not pass RFC 5322.
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Incident is one resolved production problem: the atomic unit of the
// corpus. Incidents are immutable once live except through re-ingestion,
// which re-derives the embedding whenever the text fields change.
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedBy  string    `json:"resolved_by"`
	Category    string    `json:"category,omitempty"`
	Priority    string    `json:"priority,omitempty"`

	// Embedding is the unit-norm dense vector over TrainingText. Derived,
	// never serialized to API callers.
	Embedding *pgvector.Vector `json:"-"`
}

// ValidIncidentID reports whether id is a well-formed incident identifier.
func ValidIncidentID(id string) bool {
	return incidentIDPattern.MatchString(id) || slackIDPattern.MatchString(id)
}

// Validate checks the structural rules every incident must satisfy before
// it may enter the corpus. Returns a KindSchema error naming the first
// failing field.
func (in *Incident) Validate() error {
	if !ValidIncidentID(in.ID) {
		return Errorf(KindSchema, "id %q is not a valid incident identifier", in.ID)
	}
	if n := len(strings.TrimSpace(in.Title)); n < MinTitleLen {
		return Errorf(KindSchema, "title must be at least %d characters (got %d)", MinTitleLen, n)
	}
	if n := len(strings.TrimSpace(in.Description)); n < MinDescriptionLen {
		return Errorf(KindSchema, "description must be at least %d characters (got %d)", MinDescriptionLen, n)
	}
	if n := len(strings.TrimSpace(in.Resolution)); n < MinResolutionLen {
		return Errorf(KindSchema, "resolution must be at least %d characters (got %d)", MinResolutionLen, n)
	}
	if len(in.Tags) == 0 {
		return NewError(KindSchema, "at least one tag is required")
	}
	for _, t := range in.Tags {
		if strings.TrimSpace(t) == "" {
			return NewError(KindSchema, "tags must be non-empty")
		}
	}
	if in.CreatedAt.IsZero() {
		return NewError(KindSchema, "created_at is required")
	}
	if !emailPattern.MatchString(in.ResolvedBy) {
		return Errorf(KindSchema, "resolved_by %q must be email-shaped", in.ResolvedBy)
	}
	return nil
}

// TrainingText is the canonical text fed to both the dense embedder and the
// sparse indexes. The formula is fixed: changing it silently invalidates
// every stored embedding.
func (in *Incident) TrainingText() string {
	return in.Title + ". " + in.Description + ". Resolution: " + in.Resolution
}

// TextEqual reports whether the embedded text fields of two records match.
// Re-ingestion skips re-embedding when they do.
func (in *Incident) TextEqual(other *Incident) bool {
	return in.Title == other.Title &&
		in.Description == other.Description &&
		in.Resolution == other.Resolution
}

// EntityText is the surface entity extraction reads: every text field plus
// tags. Retrieval boosts and relevance overlap must read the same surface,
// or a candidate could be boosted for a merchant the validator cannot see.
func (in *Incident) EntityText() string {
	return in.Title + " " + in.Description + " " + in.Resolution + " " + strings.Join(in.Tags, " ")
}

// VectorPayload is the metadata stored alongside the point in the vector
// index, keyed exactly as consumers expect. Long text fields are truncated
// so payloads stay bounded.
func (in *Incident) VectorPayload() map[string]any {
	return map[string]any{
		"id":          in.ID,
		"title":       in.Title,
		"description": Truncate(in.Description, PayloadTextLimit),
		"resolution":  Truncate(in.Resolution, PayloadTextLimit),
		"tags":        in.Tags,
		"created_at":  in.CreatedAt.UTC().Format(time.RFC3339),
		"resolved_by": in.ResolvedBy,
		"category":    in.Category,
		"priority":    in.Priority,
	}
}

// Clone returns a deep copy safe to hand across snapshot boundaries.
func (in *Incident) Clone() *Incident {
	out := *in
	out.Tags = append([]string(nil), in.Tags...)
	if in.Embedding != nil {
		vec := pgvector.NewVector(append([]float32(nil), in.Embedding.Slice()...))
		out.Embedding = &vec
	}
	return &out
}

// Truncate shortens s to at most limit runes. Cutting on runes rather than
// bytes keeps multi-byte characters intact at the boundary.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// SortIncidentIDs orders ids lexically; used wherever deterministic
// iteration over corpus membership matters.
func SortIncidentIDs(ids []string) {
	sort.Strings(ids)
}

// IngestState tracks a record through the ingestion pipeline. Transitions
// are strictly forward except the jump to quarantined, which any stage may
// take and which is terminal.
type IngestState string

const (
	StateNew         IngestState = "new"
	StateValidated   IngestState = "validated"
	StateNormalised  IngestState = "normalised"
	StateEmbedded    IngestState = "embedded"
	StateUpserted    IngestState = "upserted"
	StateIndexed     IngestState = "indexed"
	StateLive        IngestState = "live"
	StateQuarantined IngestState = "quarantined"
)

// next is the single legal forward transition per state. Terminal states
// map to themselves.
var nextState = map[IngestState]IngestState{
	StateNew:         StateValidated,
	StateValidated:   StateNormalised,
	StateNormalised:  StateEmbedded,
	StateEmbedded:    StateUpserted,
	StateUpserted:    StateIndexed,
	StateIndexed:     StateLive,
	StateLive:        StateLive,
	StateQuarantined: StateQuarantined,
}

// Advance returns the state after s, or an error if s is unknown.
func (s IngestState) Advance() (IngestState, error) {
	n, ok := nextState[s]
	if !ok {
		return "", fmt.Errorf("unknown ingest state %q", s)
	}
	return n, nil
}

// Terminal reports whether no further transitions are possible from s.
func (s IngestState) Terminal() bool {
	return s == StateLive || s == StateQuarantined
}
