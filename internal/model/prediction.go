package model

import (
	"time"

	"github.com/google/uuid"
)

type ConfidenceBand string

const (
	ConfidenceHigh   ConfidenceBand = "high"
	ConfidenceMedium ConfidenceBand = "medium"
	ConfidenceLow    ConfidenceBand = "low"
)

type FeedbackKind string

const (
	FeedbackHelpful    FeedbackKind = "helpful"
	FeedbackSomewhat   FeedbackKind = "somewhat"
	FeedbackNotHelpful FeedbackKind = "not_helpful"
)

func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackHelpful, FeedbackSomewhat, FeedbackNotHelpful:
		return true
	}
	return false
}

type PredictionState string

const (
	PredictionStateCreated       PredictionState = "created"
	PredictionStateFeedbackGiven PredictionState = "feedback_given"
)

// DiseaseProbability is one ranked entry of a prediction.
type DiseaseProbability struct {
	Disease     string         `json:"disease"`
	Probability float64        `json:"probability"`
	Confidence  ConfidenceBand `json:"confidence"`
}

// PredictionRecord is persisted once per recorded inference. Only the
// feedback fields (UserFeedback, DoctorVerified) change after creation.
type PredictionRecord struct {
	Base
	SessionRef      string               `json:"session_ref"`
	SymptomIDs      []int64              `json:"symptom_ids"`
	Symptoms        []string             `json:"symptoms"`
	Predictions     []DiseaseProbability `json:"predictions"`
	ConfidenceScore float64              `json:"confidence_score"`
	UserFeedback    *FeedbackKind        `json:"user_feedback,omitempty"`
	DoctorVerified  bool                 `json:"doctor_verified"`
	ModelVersion    string               `json:"model_version"`
}

// State derives the lifecycle state from the feedback fields.
func (r *PredictionRecord) State() PredictionState {
	if r.UserFeedback != nil {
		return PredictionStateFeedbackGiven
	}
	return PredictionStateCreated
}

// Stored accuracy ratings are always within this range.
const (
	MinAccuracyRating = 1
	MaxAccuracyRating = 5
)

// PredictionFeedback is the optional detailed review attached 1:1 to a
// prediction record.
type PredictionFeedback struct {
	PredictionID          uuid.UUID `db:"prediction_id" json:"prediction_id"`
	AccuracyRating        int       `db:"accuracy_rating" json:"accuracy_rating"`
	ActualDiagnosis       string    `db:"actual_diagnosis" json:"actual_diagnosis"`
	DoctorNotes           string    `db:"doctor_notes" json:"doctor_notes"`
	SuggestedImprovements string    `db:"suggested_improvements" json:"suggested_improvements"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// PredictionResult is what PredictAndRecord hands back to callers.
type PredictionResult struct {
	Success         bool                 `json:"success"`
	PredictionID    *uuid.UUID           `json:"prediction_id,omitempty"`
	Predictions     []DiseaseProbability `json:"predictions,omitempty"`
	ConfidenceScore float64              `json:"confidence_score"`
	Message         string               `json:"message"`
}

type PredictionFilters struct {
	Pagination
	SessionRef     string        `form:"session_ref"`
	Feedback       *FeedbackKind `form:"feedback"`
	DoctorVerified *bool         `form:"doctor_verified"`
}

type PredictRequest struct {
	Symptoms []string `json:"symptoms" binding:"required,min=1,max=50,dive,required,max=100"`
}

// FeedbackRequest is the end user's verdict. Comment is stored as the
// suggested improvements of the detailed feedback.
type FeedbackRequest struct {
	Feedback       FeedbackKind `json:"feedback" binding:"required,oneof=helpful somewhat not_helpful"`
	Comment        string       `json:"comment" binding:"max=2000"`
	AccuracyRating int          `json:"accuracy_rating" binding:"omitempty,min=1,max=5"`
}

type VerifyRequest struct {
	Verified        bool   `json:"verified"`
	ActualDiagnosis string `json:"actual_diagnosis" binding:"max=200"`
	DoctorNotes     string `json:"doctor_notes" binding:"max=2000"`
}
