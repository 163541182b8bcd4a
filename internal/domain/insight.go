package domain

import "time"

// InsightKind classifies a learning-insight signal.
type InsightKind string

const (
	InsightKindHint     InsightKind = "hint"
	InsightKindFeedback InsightKind = "feedback"
	InsightKindTopic    InsightKind = "topic"
)

// InsightSignal is one row of client-reported learning data.
type InsightSignal struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	SessionKey string      `json:"session_key"`
	Kind       InsightKind `json:"kind"`
	Value      string      `json:"value"`
	OccurredAt time.Time   `json:"occurred_at"`
	CreatedAt  time.Time   `json:"created_at"`
}
