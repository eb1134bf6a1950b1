package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rating bounds for feedback. 1 is useless, 5 is solved-my-problem.
const (
	MinRating = 1
	MaxRating = 5
)

// MaxFeedbackTextLen caps free-text feedback so the sink stays bounded.
const MaxFeedbackTextLen = 2000

// Feedback is one user judgment of a response. Records are append-only;
// nothing in the pipeline reads them back at query time.
type Feedback struct {
	ID        uuid.UUID `json:"id"`
	Query     string    `json:"query"`
	ResultID  string    `json:"result_id"`
	Rating    int       `json:"rating"`
	Helpful   bool      `json:"helpful"`
	Text      string    `json:"feedback_text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks a feedback record before it is accepted into the sink.
func (f *Feedback) Validate() error {
	if strings.TrimSpace(f.Query) == "" {
		return NewError(KindInvalidInput, "query is required")
	}
	if strings.TrimSpace(f.ResultID) == "" {
		return NewError(KindInvalidInput, "result_id is required")
	}
	if f.Rating < MinRating || f.Rating > MaxRating {
		return Errorf(KindInvalidInput, "rating must be between %d and %d", MinRating, MaxRating)
	}
	if len(f.Text) > MaxFeedbackTextLen {
		return Errorf(KindInvalidInput, "feedback_text exceeds maximum length of %d characters", MaxFeedbackTextLen)
	}
	return nil
}
