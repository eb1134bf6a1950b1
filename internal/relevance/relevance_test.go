package relevance

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
)

func newTestValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func candidate(id string, fused float64, in *model.Incident) model.RetrievalCandidate {
	return model.RetrievalCandidate{IncidentID: id, FusedScore: fused, Incident: in}
}

func upiIncident(id string) *model.Incident {
	return &model.Incident{
		ID:          id,
		Title:       "UPI collect requests timing out",
		Description: "UPI collect requests against the bank handle fail after 30 seconds during peak traffic windows.",
		Resolution:  "Raised the collect timeout and enabled retry on gateway timeout responses.",
		Tags:        []string{"upi", "timeout"},
	}
}

func webhookIncident(id string) *model.Incident {
	return &model.Incident{
		ID:          id,
		Title:       "Webhook deliveries silently dropped",
		Description: "Payment status webhooks were dropped when the consumer returned 5xx and the retry queue overflowed.",
		Resolution:  "Increased the retry queue depth and added dead-letter alerting.",
		Tags:        []string{"webhook", "retries"},
	}
}

func TestValidateNoCandidates(t *testing.T) {
	v := newTestValidator()

	got := v.Validate("UPI payments failing", nil)
	assert.False(t, got.Admitted)
	assert.Equal(t, model.RefusalNoCandidates, got.Reason)
}

func TestValidateAdmitsOnStrongFusedScore(t *testing.T) {
	v := newTestValidator()

	// Query and candidate share no domain, entities, or troubleshooting
	// intent; only the hybrid score should carry the admission.
	got := v.Validate("how do refunds get reconciled",
		[]model.RetrievalCandidate{candidate("JSP-1", 0.85, webhookIncident("JSP-1"))})

	require.True(t, got.Admitted)
	assert.InDelta(t, 0.85, got.TopFused, 1e-9)
	assert.Less(t, got.BestComposite, compositeAdmitFloor)
}

func TestValidateAdmitsOnComposite(t *testing.T) {
	v := newTestValidator()

	// Moderate fused score, but identical domain: composite alone admits.
	got := v.Validate("UPI collect requests failing at checkout",
		[]model.RetrievalCandidate{candidate("JSP-1", 0.4, upiIncident("JSP-1"))})

	require.True(t, got.Admitted)
	assert.GreaterOrEqual(t, got.BestComposite, compositeAdmitFloor)
}

func TestValidateRefusesWeakOverlap(t *testing.T) {
	v := newTestValidator()

	// Troubleshooting intent alone (0.2) is below the composite floor, and
	// the fused score is below the fused floor.
	got := v.Validate("builds failing on the release branch",
		[]model.RetrievalCandidate{candidate("JSP-1", 0.5, upiIncident("JSP-1"))})

	require.False(t, got.Admitted)
	assert.Equal(t, model.RefusalInsufficientOverlap, got.Reason)
	assert.InDelta(t, intentWeight, got.BestComposite, 1e-9)
}

func TestCompositeFormula(t *testing.T) {
	v := newTestValidator()

	in := upiIncident("JSP-1")
	in.Tags = append(in.Tags, "snapdeal")

	// Query: domain upi, entities {snapdeal}, troubleshooting intent.
	// Candidate: domain upi (1.0), contains snapdeal (overlap 1.0), has a
	// resolution (intent 1) => composite = 0.5 + 0.3 + 0.2 = 1.0.
	got := v.Validate("Snapdeal UPI payments failing",
		[]model.RetrievalCandidate{candidate("JSP-1", 0.6, in)})

	require.Len(t, got.Scores, 1)
	s := got.Scores[0]
	assert.InDelta(t, 1.0, s.DomainMatch, 1e-9)
	assert.InDelta(t, 1.0, s.EntityOverlap, 1e-9)
	assert.True(t, s.IntentAligned)
	assert.InDelta(t, 1.0, s.Composite, 1e-9)
	assert.True(t, got.Admitted)
}

func TestAdjacentDomainScoresHalf(t *testing.T) {
	v := newTestValidator()

	in := &model.Incident{
		ID:          "JSP-2",
		Title:       "Gateway integration returning intermittent 502s",
		Description: "The acquiring gateway integration intermittently returns 502 during failover.",
		Resolution:  "Pinned the integration to the healthy gateway pool.",
		Tags:        []string{"gateway"},
	}

	got := v.Validate("UPI collect stuck in pending",
		[]model.RetrievalCandidate{candidate("JSP-2", 0.4, in)})

	require.Len(t, got.Scores, 1)
	assert.InDelta(t, 0.5, got.Scores[0].DomainMatch, 1e-9)
	// 0.5*0.5 + 0.2 (intent) = 0.45 >= 0.3: adjacent domain admits.
	assert.True(t, got.Admitted)
}

func TestIntentRequiresResolution(t *testing.T) {
	v := newTestValidator()

	in := upiIncident("JSP-3")
	in.Resolution = "   "

	got := v.Validate("UPI payments failing",
		[]model.RetrievalCandidate{candidate("JSP-3", 0.4, in)})

	require.Len(t, got.Scores, 1)
	assert.False(t, got.Scores[0].IntentAligned)
}

func TestBestCompositeAcrossCandidates(t *testing.T) {
	v := newTestValidator()

	got := v.Validate("UPI payments failing", []model.RetrievalCandidate{
		candidate("JSP-1", 0.7, webhookIncident("JSP-1")),
		candidate("JSP-2", 0.5, upiIncident("JSP-2")),
	})

	require.Len(t, got.Scores, 2)
	assert.InDelta(t, 0.7, got.TopFused, 1e-9, "top fused comes from rank 1")
	assert.Equal(t, got.BestComposite, got.Scores[1].Composite,
		"best composite may come from a lower-ranked candidate")
	assert.Greater(t, got.Scores[1].Composite, got.Scores[0].Composite)
}

func TestUnhydratedCandidateScoresZero(t *testing.T) {
	v := newTestValidator()

	got := v.Validate("UPI payments failing",
		[]model.RetrievalCandidate{candidate("JSP-9", 0.5, nil)})

	require.Len(t, got.Scores, 1)
	assert.Zero(t, got.Scores[0].Composite)
	assert.False(t, got.Admitted)
}
