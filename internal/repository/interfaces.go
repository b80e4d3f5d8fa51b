package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// CatalogRepository reads the symptom/disease catalog and seeds it.
	CatalogRepository interface {
		ListSymptoms(ctx context.Context, activeOnly bool) ([]*model.Symptom, error)
		ListDiseases(ctx context.Context, activeOnly bool) ([]*model.Disease, error)
		ListAssociations(ctx context.Context) ([]*model.DiseaseSymptom, error)
		GetActiveDiseaseByName(ctx context.Context, name string) (*model.Disease, error)
		FindSymptomsByName(ctx context.Context, names []string) ([]*model.Symptom, error)
		// Ensure* methods are get-or-create keyed on the natural key. They set
		// the ID on the argument and report whether a row was inserted.
		EnsureSymptom(ctx context.Context, symptom *model.Symptom) (bool, error)
		EnsureDisease(ctx context.Context, disease *model.Disease) (bool, error)
		EnsureAssociation(ctx context.Context, assoc *model.DiseaseSymptom) (bool, error)
	}

	// PredictionRepository is the prediction record sink. Every write also
	// enqueues its outbox event in the same transaction.
	PredictionRepository interface {
		Create(ctx context.Context, record *model.PredictionRecord, event *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.PredictionRecord, error)
		List(ctx context.Context, filters *model.PredictionFilters) ([]*model.PredictionRecord, int, error)
		GetFeedback(ctx context.Context, predictionID uuid.UUID) (*model.PredictionFeedback, error)
		// SetFeedback returns ErrNotFound, and writes nothing, for unknown ids.
		SetFeedback(ctx context.Context, id uuid.UUID, kind model.FeedbackKind, detail *model.PredictionFeedback, event *model.OutboxEvent) error
		SetDoctorVerified(ctx context.Context, id uuid.UUID, verified bool, detail *model.PredictionFeedback, event *model.OutboxEvent) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEventsWithLock row-locks due events inside tx, skipping
		// rows another worker already holds.
		GetPendingEventsWithLock(ctx context.Context, tx *sql.Tx, limit int) ([]*model.OutboxEvent, error)
		BeginTx(ctx context.Context) (*sql.Tx, error)
		UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		MoveToDeadLetter(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
