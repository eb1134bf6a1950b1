// Package relevance gates retrieval candidates before generation. The
// validator exists to keep the generator from hallucinating an answer out
// of weakly related incidents: a candidate set must look topically right
// for the query, not merely score well lexically.
package relevance

import (
	"log/slog"
	"strings"

	"github.com/ashita-ai/kioku/internal/entity"
	"github.com/ashita-ai/kioku/internal/model"
)

// Composite relevance weights. Domain agreement dominates; shared entities
// and troubleshooting intent refine it.
const (
	domainWeight = 0.5
	entityWeight = 0.3
	intentWeight = 0.2
)

// Admission floors. A very strong hybrid match may carry a weak semantic
// theme, and a strong semantic theme may carry a moderate hybrid score;
// either branch admits.
const (
	fusedAdmitFloor     = 0.8
	compositeAdmitFloor = 0.3
)

// Score is the composite relevance breakdown for one candidate.
type Score struct {
	IncidentID    string  `json:"incident_id"`
	DomainMatch   float64 `json:"domain_match"`
	EntityOverlap float64 `json:"entity_overlap"`
	IntentAligned bool    `json:"intent_aligned"`
	Composite     float64 `json:"composite"`
}

// Verdict is the validator's decision over an ordered candidate set.
type Verdict struct {
	Admitted bool
	// Reason is set when not admitted.
	Reason model.RefusalReason
	// TopFused is the fused score of the rank-1 candidate.
	TopFused float64
	// BestComposite is the maximum composite across candidates.
	BestComposite float64
	// Scores is parallel to the input candidates.
	Scores []Score
}

// Validator checks whether a candidate set is topically admissible for a
// query. Stateless and safe for concurrent use.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate scores the ordered candidate set against the query and applies
// the admission rule: admit iff the rank-1 fused score clears the fused
// floor or the best composite clears the composite floor.
func (v *Validator) Validate(query string, candidates []model.RetrievalCandidate) Verdict {
	if len(candidates) == 0 {
		return Verdict{Admitted: false, Reason: model.RefusalNoCandidates}
	}

	queryDomain := entity.DomainOf(query)
	queryEntities := entity.Entities(query)
	troubleshooting := entity.Troubleshooting(query)

	verdict := Verdict{
		TopFused: candidates[0].FusedScore,
		Scores:   make([]Score, len(candidates)),
	}

	for i, c := range candidates {
		s := Score{IncidentID: c.IncidentID}
		if c.Incident != nil {
			text := c.Incident.EntityText()
			s.DomainMatch = entity.Compatibility(queryDomain, entity.DomainOf(text))
			s.EntityOverlap = entity.Overlap(queryEntities, entity.Entities(text))
			s.IntentAligned = troubleshooting && strings.TrimSpace(c.Incident.Resolution) != ""
		}
		s.Composite = domainWeight*s.DomainMatch + entityWeight*s.EntityOverlap
		if s.IntentAligned {
			s.Composite += intentWeight
		}
		verdict.Scores[i] = s
		if s.Composite > verdict.BestComposite {
			verdict.BestComposite = s.Composite
		}
	}

	verdict.Admitted = verdict.TopFused >= fusedAdmitFloor || verdict.BestComposite >= compositeAdmitFloor
	if !verdict.Admitted {
		verdict.Reason = model.RefusalInsufficientOverlap
		v.logger.Debug("candidate set refused",
			"query_domain", queryDomain,
			"top_fused", verdict.TopFused,
			"best_composite", verdict.BestComposite,
			"candidates", len(candidates))
	}
	return verdict
}
