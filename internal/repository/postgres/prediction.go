package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
)

// ErrInvalidRating is returned before a feedback row with a rating outside
// the stored range reaches the database.
var ErrInvalidRating = errors.New("accuracy rating out of range")

type predictionRepository struct {
	BaseRepository
}

func NewPredictionRepository(base BaseRepository) repository.PredictionRepository {
	return &predictionRepository{base}
}

// predictionRow is the storage shape of model.PredictionRecord.
type predictionRow struct {
	ID              uuid.UUID       `db:"id"`
	SessionRef      string          `db:"session_ref"`
	SymptomIDs      pq.Int64Array   `db:"selected_symptom_ids"`
	Symptoms        json.RawMessage `db:"selected_symptoms"`
	Predictions     json.RawMessage `db:"predicted_diseases"`
	ConfidenceScore float64         `db:"confidence_score"`
	UserFeedback    sql.NullString  `db:"user_feedback"`
	DoctorVerified  bool            `db:"doctor_verified"`
	ModelVersion    string          `db:"model_version"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (row *predictionRow) toModel() (*model.PredictionRecord, error) {
	rec := &model.PredictionRecord{
		Base:            model.Base{ID: row.ID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt},
		SessionRef:      row.SessionRef,
		SymptomIDs:      []int64(row.SymptomIDs),
		ConfidenceScore: row.ConfidenceScore,
		DoctorVerified:  row.DoctorVerified,
		ModelVersion:    row.ModelVersion,
	}
	if len(row.Symptoms) > 0 {
		if err := json.Unmarshal(row.Symptoms, &rec.Symptoms); err != nil {
			return nil, fmt.Errorf("decode selected symptoms: %w", err)
		}
	}
	if len(row.Predictions) > 0 {
		if err := json.Unmarshal(row.Predictions, &rec.Predictions); err != nil {
			return nil, fmt.Errorf("decode predictions: %w", err)
		}
	}
	if row.UserFeedback.Valid {
		kind := model.FeedbackKind(row.UserFeedback.String)
		rec.UserFeedback = &kind
	}
	return rec, nil
}

const predictionColumns = `id, session_ref, selected_symptom_ids, selected_symptoms, predicted_diseases,
	confidence_score, user_feedback, doctor_verified, model_version, created_at, updated_at`

func (r *predictionRepository) Create(ctx context.Context, rec *model.PredictionRecord, event *model.OutboxEvent) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	symptoms, err := json.Marshal(rec.Symptoms)
	if err != nil {
		return fmt.Errorf("encode selected symptoms: %w", err)
	}
	predictions, err := json.Marshal(rec.Predictions)
	if err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}

	query := `
		INSERT INTO predictions (
			id, session_ref, selected_symptom_ids, selected_symptoms, predicted_diseases,
			confidence_score, user_feedback, doctor_verified, model_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULL, FALSE, $7, $8, $9)
	`
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.SessionRef, pq.Array(rec.SymptomIDs), symptoms, predictions,
			rec.ConfidenceScore, rec.ModelVersion, rec.CreatedAt, rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create prediction: %w", err)
		}
		if event != nil {
			return insertOutboxEvent(ctx, tx, event)
		}
		return nil
	})
}

func (r *predictionRepository) Get(ctx context.Context, id uuid.UUID) (*model.PredictionRecord, error) {
	var row predictionRow
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return row.toModel()
}

func (r *predictionRepository) List(ctx context.Context, filters *model.PredictionFilters) ([]*model.PredictionRecord, int, error) {
	if filters == nil {
		filters = &model.PredictionFilters{}
	}
	var (
		where []string
		args  []interface{}
	)
	if filters.SessionRef != "" {
		args = append(args, filters.SessionRef)
		where = append(where, fmt.Sprintf("session_ref = $%d", len(args)))
	}
	if filters.Feedback != nil {
		args = append(args, string(*filters.Feedback))
		where = append(where, fmt.Sprintf("user_feedback = $%d", len(args)))
	}
	if filters.DoctorVerified != nil {
		args = append(args, *filters.DoctorVerified)
		where = append(where, fmt.Sprintf("doctor_verified = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM predictions`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count predictions: %w", err)
	}

	args = append(args, filters.Limit(), filters.Offset())
	query := fmt.Sprintf(`SELECT %s FROM predictions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		predictionColumns, clause, len(args)-1, len(args))

	var rows []predictionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list predictions: %w", err)
	}
	records := make([]*model.PredictionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, nil
}

func (r *predictionRepository) GetFeedback(ctx context.Context, predictionID uuid.UUID) (*model.PredictionFeedback, error) {
	query := `
		SELECT prediction_id, accuracy_rating, actual_diagnosis, doctor_notes,
			suggested_improvements, created_at, updated_at
		FROM prediction_feedback
		WHERE prediction_id = $1
	`
	var fb model.PredictionFeedback
	if err := r.db.GetContext(ctx, &fb, query, predictionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get prediction feedback: %w", err)
	}
	return &fb, nil
}

func (r *predictionRepository) SetFeedback(ctx context.Context, id uuid.UUID, kind model.FeedbackKind, detail *model.PredictionFeedback, event *model.OutboxEvent) error {
	query := `UPDATE predictions SET user_feedback = $1, updated_at = NOW() WHERE id = $2`
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, query, string(kind), id); err != nil {
			return err
		}
		return r.finishFeedback(ctx, tx, detail, event)
	})
}

func (r *predictionRepository) SetDoctorVerified(ctx context.Context, id uuid.UUID, verified bool, detail *model.PredictionFeedback, event *model.OutboxEvent) error {
	query := `UPDATE predictions SET doctor_verified = $1, updated_at = NOW() WHERE id = $2`
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, query, verified, id); err != nil {
			return err
		}
		return r.finishFeedback(ctx, tx, detail, event)
	})
}

func (r *predictionRepository) finishFeedback(ctx context.Context, tx *sqlx.Tx, detail *model.PredictionFeedback, event *model.OutboxEvent) error {
	if detail != nil {
		if err := upsertFeedback(ctx, tx, detail); err != nil {
			return err
		}
	}
	if event != nil {
		return insertOutboxEvent(ctx, tx, event)
	}
	return nil
}

// upsertFeedback keeps one feedback row per prediction. Empty text fields
// leave the stored values untouched. The rating must already be in 1..5.
func upsertFeedback(ctx context.Context, tx *sqlx.Tx, fb *model.PredictionFeedback) error {
	if fb.AccuracyRating < model.MinAccuracyRating || fb.AccuracyRating > model.MaxAccuracyRating {
		return fmt.Errorf("%w: %d", ErrInvalidRating, fb.AccuracyRating)
	}
	query := `
		INSERT INTO prediction_feedback (
			prediction_id, accuracy_rating, actual_diagnosis, doctor_notes,
			suggested_improvements, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (prediction_id) DO UPDATE SET
			accuracy_rating = EXCLUDED.accuracy_rating,
			actual_diagnosis = COALESCE(NULLIF(EXCLUDED.actual_diagnosis, ''), prediction_feedback.actual_diagnosis),
			doctor_notes = COALESCE(NULLIF(EXCLUDED.doctor_notes, ''), prediction_feedback.doctor_notes),
			suggested_improvements = COALESCE(NULLIF(EXCLUDED.suggested_improvements, ''), prediction_feedback.suggested_improvements),
			updated_at = NOW()
	`
	if _, err := tx.ExecContext(ctx, query,
		fb.PredictionID, fb.AccuracyRating, fb.ActualDiagnosis, fb.DoctorNotes, fb.SuggestedImprovements,
	); err != nil {
		return fmt.Errorf("failed to upsert prediction feedback: %w", err)
	}
	return nil
}

func execOne(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
