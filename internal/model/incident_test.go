package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIncident() *Incident {
	return &Incident{
		ID:          "JSP-1052",
		Title:       "UPI payment timeout on checkout",
		Description: strings.Repeat("UPI collect requests against the PSP time out after 30s under load. ", 2),
		Resolution:  "Raised the PSP client timeout to 60s and enabled async status polling.",
		Tags:        []string{"upi", "timeout"},
		CreatedAt:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ResolvedBy:  "priya@example.com",
		Category:    "payments",
		Priority:    "high",
	}
}

func TestIncidentValidate(t *testing.T) {
	require.NoError(t, validIncident().Validate())

	cases := []struct {
		name   string
		mutate func(*Incident)
	}{
		{"bad id", func(in *Incident) { in.ID = "1052" }},
		{"short title", func(in *Incident) { in.Title = "too short" }},
		{"short description", func(in *Incident) { in.Description = "not enough detail here" }},
		{"short resolution", func(in *Incident) { in.Resolution = "fixed it" }},
		{"no tags", func(in *Incident) { in.Tags = nil }},
		{"blank tag", func(in *Incident) { in.Tags = []string{"upi", "  "} }},
		{"zero created_at", func(in *Incident) { in.CreatedAt = time.Time{} }},
		{"bad resolver", func(in *Incident) { in.ResolvedBy = "priya" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validIncident()
			tc.mutate(in)
			err := in.Validate()
			require.Error(t, err)
			assert.Equal(t, KindSchema, KindOf(err))
		})
	}
}

func TestValidIncidentID(t *testing.T) {
	assert.True(t, ValidIncidentID("JSP-1052"))
	assert.True(t, ValidIncidentID("inc-7"))
	assert.True(t, ValidIncidentID("SLACK-payments-1718181818"))
	assert.True(t, ValidIncidentID("SLACK-payments_oncall-1718181818.000200"))

	assert.False(t, ValidIncidentID("1052"))
	assert.False(t, ValidIncidentID("JSP1052"))
	assert.False(t, ValidIncidentID("JSP-"))
	assert.False(t, ValidIncidentID("JSP-12a"))
	assert.False(t, ValidIncidentID(""))
}

func TestTrainingText(t *testing.T) {
	in := &Incident{Title: "T title here", Description: "D body", Resolution: "R steps"}
	assert.Equal(t, "T title here. D body. Resolution: R steps", in.TrainingText())
}

func TestVectorPayloadTruncation(t *testing.T) {
	in := validIncident()
	in.Description = strings.Repeat("x", PayloadTextLimit+100)

	payload := in.VectorPayload()
	assert.Len(t, payload["description"], PayloadTextLimit)
	assert.Equal(t, in.ID, payload["id"])
	assert.Equal(t, "2024-01-15T00:00:00Z", payload["created_at"])
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// 4 runes, 8 bytes: a byte-based cut at 3 would split the first kanji.
	s := "日本語x"
	assert.Equal(t, "日本語", Truncate(s, 3))
	assert.Equal(t, s, Truncate(s, 10))
	assert.Equal(t, "", Truncate(s, 0))
}

func TestCloneIsIndependent(t *testing.T) {
	in := validIncident()
	cp := in.Clone()
	cp.Tags[0] = "changed"
	cp.Title = "changed title too"

	assert.Equal(t, "upi", in.Tags[0])
	assert.NotEqual(t, in.Title, cp.Title)
}

func TestIngestStateAdvance(t *testing.T) {
	order := []IngestState{
		StateNew, StateValidated, StateNormalised, StateEmbedded,
		StateUpserted, StateIndexed, StateLive,
	}
	for i := 0; i < len(order)-1; i++ {
		next, err := order[i].Advance()
		require.NoError(t, err)
		assert.Equal(t, order[i+1], next)
	}

	// Terminal states stay put.
	next, err := StateLive.Advance()
	require.NoError(t, err)
	assert.Equal(t, StateLive, next)
	next, err = StateQuarantined.Advance()
	require.NoError(t, err)
	assert.Equal(t, StateQuarantined, next)

	_, err = IngestState("bogus").Advance()
	assert.Error(t, err)
}
