package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Event types published on the outbox.
const (
	EventPredictionCreated  = "PREDICTION_CREATED"
	EventPredictionFeedback = "PREDICTION_FEEDBACK"
	EventPredictionVerified = "PREDICTION_VERIFIED"
	EventModelTrained       = "MODEL_TRAINED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// NewOutboxEvent marshals payload into a pending event.
func NewOutboxEvent(eventType string, payload interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
		Status:    OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type PredictionCreatedPayload struct {
	PredictionID    uuid.UUID            `json:"prediction_id"`
	SessionRef      string               `json:"session_ref"`
	Symptoms        []string             `json:"symptoms"`
	Predictions     []DiseaseProbability `json:"predictions"`
	ConfidenceScore float64              `json:"confidence_score"`
	ModelVersion    string               `json:"model_version"`
}

type PredictionFeedbackPayload struct {
	PredictionID   uuid.UUID    `json:"prediction_id"`
	Feedback       FeedbackKind `json:"feedback"`
	AccuracyRating int          `json:"accuracy_rating,omitempty"`
	HasComment     bool         `json:"has_comment"`
}

type PredictionVerifiedPayload struct {
	PredictionID    uuid.UUID `json:"prediction_id"`
	Verified        bool      `json:"verified"`
	ActualDiagnosis string    `json:"actual_diagnosis,omitempty"`
}

type ModelTrainedPayload struct {
	Version   string  `json:"version"`
	Accuracy  float64 `json:"accuracy"`
	Samples   int     `json:"samples"`
	Diseases  int     `json:"diseases"`
	Symptoms  int     `json:"symptoms"`
	Persisted bool    `json:"persisted"`
}
