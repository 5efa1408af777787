package types

import "time"

// FeedbackType classifies a user's reaction to a chunk.
type FeedbackType string

const (
	FeedbackHelpful          FeedbackType = "helpful"
	FeedbackNotHelpful       FeedbackType = "not_helpful"
	FeedbackNeedsImprovement FeedbackType = "needs_improvement"
	FeedbackOutdated         FeedbackType = "outdated"
	FeedbackHasErrors        FeedbackType = "has_errors"
)

// CustomFeedback wraps a free-form label.
func CustomFeedback(label string) FeedbackType {
	return FeedbackType("custom:" + label)
}

type Feedback struct {
	UserID    string            `json:"user_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      FeedbackType      `json:"feedback_type"`
	Comment   string            `json:"comment,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SimilarityKind names the factor that contributed most to a similarity score.
type SimilarityKind string

const (
	SimilarityContent    SimilarityKind = "content"
	SimilarityStructural SimilarityKind = "structural"
	SimilaritySemantic   SimilarityKind = "semantic"
	SimilarityUsage      SimilarityKind = "usage"
	SimilarityFramework  SimilarityKind = "framework"
)

// SimilarityMatch is one ranked result of a similarity query.
type SimilarityMatch struct {
	Chunk *Chunk         `json:"chunk"`
	Score float32        `json:"score"`
	Kind  SimilarityKind `json:"kind"`
}
