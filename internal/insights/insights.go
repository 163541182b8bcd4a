// Package insights validates and stores client-reported learning signals.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/hints"
	"github.com/ashureev/chatdesk/internal/prefs"
)

// Batch and value limits.
const (
	MaxBatchSize   = 100
	MaxValueLength = 200
)

// Outcomes reported to an Observer.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ErrInvalidBatch is returned when the request body does not have the
// expected top-level shape. Individual bad signals are not errors.
var ErrInvalidBatch = errors.New("invalid insight batch")

// Store persists signals.
type Store interface {
	InsertInsightSignal(ctx context.Context, sig *domain.InsightSignal) error
}

// Observer receives per-batch outcome counts.
type Observer interface {
	InsightOutcome(outcome string, n int)
}

// Result summarizes one ingestion.
type Result struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// Service ingests signal batches.
type Service struct {
	store    Store
	observer Observer
	now      func() time.Time
}

// NewService creates an ingestion service. observer may be nil.
func NewService(st Store, observer Observer) *Service {
	return &Service{store: st, observer: observer, now: time.Now}
}

// DecodeBatch checks the top-level shape {signals: [...]} and returns the
// raw items.
func DecodeBatch(body []byte) ([]any, error) {
	var top map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&top); err != nil || top == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidBatch)
	}
	items, ok := top["signals"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: signals must be an array", ErrInvalidBatch)
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		return nil, fmt.Errorf("%w: signals must contain 1 to %d items", ErrInvalidBatch, MaxBatchSize)
	}
	return items, nil
}

// Validate turns one raw item into a signal owned by userID.
func (s *Service) Validate(userID string, v any) (domain.InsightSignal, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return domain.InsightSignal{}, errors.New("signal must be an object")
	}
	sessionKey, ok := prefs.NormalizeSessionKey(obj["sessionKey"])
	if !ok {
		return domain.InsightSignal{}, errors.New("invalid sessionKey")
	}

	rawKind, _ := obj["kind"].(string)
	kind := domain.InsightKind(rawKind)
	switch kind {
	case domain.InsightKindHint, domain.InsightKindFeedback, domain.InsightKindTopic:
	default:
		return domain.InsightSignal{}, fmt.Errorf("unknown kind %q", rawKind)
	}

	rawValue, _ := obj["value"].(string)
	value := strings.TrimSpace(rawValue)
	if value == "" || utf8.RuneCountInString(value) > MaxValueLength {
		return domain.InsightSignal{}, errors.New("value must be 1 to 200 characters")
	}
	if kind == domain.InsightKindHint && !hints.IsHint(value) {
		return domain.InsightSignal{}, fmt.Errorf("unknown hint %q", value)
	}

	now := s.now()
	occurred := now
	if ms, ok := obj["occurredAtMs"].(float64); ok && ms > 0 && !math.IsInf(ms, 0) && ms < math.MaxInt64 {
		occurred = time.UnixMilli(int64(ms))
	}

	return domain.InsightSignal{
		ID:         uuid.NewString(),
		UserID:     userID,
		SessionKey: sessionKey,
		Kind:       kind,
		Value:      value,
		OccurredAt: occurred,
		CreatedAt:  now,
	}, nil
}

// Ingest validates and inserts every item independently. A storage
// failure on one row does not affect the others.
func (s *Service) Ingest(ctx context.Context, userID string, items []any) Result {
	var res Result
	for i, item := range items {
		sig, err := s.Validate(userID, item)
		if err != nil {
			res.Rejected++
			slog.Debug("Rejected insight signal", "user_id", userID, "index", i, "reason", err)
			continue
		}
		if err := s.store.InsertInsightSignal(ctx, &sig); err != nil {
			res.Failed++
			slog.Warn("Failed to store insight signal", "user_id", userID, "index", i, "error", err)
			continue
		}
		res.Accepted++
	}

	if s.observer != nil {
		s.observer.InsightOutcome(OutcomeAccepted, res.Accepted)
		s.observer.InsightOutcome(OutcomeRejected, res.Rejected)
		s.observer.InsightOutcome(OutcomeFailed, res.Failed)
	}
	return res
}
