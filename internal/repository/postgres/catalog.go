package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
)

type catalogRepository struct {
	BaseRepository
}

func NewCatalogRepository(base BaseRepository) repository.CatalogRepository {
	return &catalogRepository{base}
}

const symptomColumns = `id, name, description, category, severity_weight, is_active, created_at`

const diseaseColumns = `id, name, description, category, severity_level, treatment_advice,
	when_to_see_doctor, prevention_tips, is_active, created_at`

func (r *catalogRepository) ListSymptoms(ctx context.Context, activeOnly bool) ([]*model.Symptom, error) {
	query := `SELECT ` + symptomColumns + ` FROM symptoms`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY category, name`

	var symptoms []*model.Symptom
	if err := r.db.SelectContext(ctx, &symptoms, query); err != nil {
		return nil, fmt.Errorf("failed to list symptoms: %w", err)
	}
	return symptoms, nil
}

func (r *catalogRepository) ListDiseases(ctx context.Context, activeOnly bool) ([]*model.Disease, error) {
	query := `SELECT ` + diseaseColumns + ` FROM diseases`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	var diseases []*model.Disease
	if err := r.db.SelectContext(ctx, &diseases, query); err != nil {
		return nil, fmt.Errorf("failed to list diseases: %w", err)
	}
	return diseases, nil
}

func (r *catalogRepository) ListAssociations(ctx context.Context) ([]*model.DiseaseSymptom, error) {
	query := `
		SELECT ds.disease_id, ds.symptom_id, s.name AS symptom_name, ds.probability, ds.is_primary
		FROM disease_symptoms ds
		JOIN symptoms s ON s.id = ds.symptom_id
		ORDER BY ds.disease_id, s.category, s.name
	`
	var assoc []*model.DiseaseSymptom
	if err := r.db.SelectContext(ctx, &assoc, query); err != nil {
		return nil, fmt.Errorf("failed to list disease symptoms: %w", err)
	}
	return assoc, nil
}

func (r *catalogRepository) GetActiveDiseaseByName(ctx context.Context, name string) (*model.Disease, error) {
	query := `SELECT ` + diseaseColumns + ` FROM diseases WHERE name = $1 AND is_active = TRUE`

	var disease model.Disease
	if err := r.db.GetContext(ctx, &disease, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get disease: %w", err)
	}
	return &disease, nil
}

func (r *catalogRepository) FindSymptomsByName(ctx context.Context, names []string) ([]*model.Symptom, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `SELECT ` + symptomColumns + ` FROM symptoms WHERE name = ANY($1) ORDER BY category, name`

	var symptoms []*model.Symptom
	if err := r.db.SelectContext(ctx, &symptoms, query, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to find symptoms: %w", err)
	}
	return symptoms, nil
}

// The no-op DO UPDATE makes RETURNING yield the existing row on conflict;
// xmax is zero only for freshly inserted tuples.

func (r *catalogRepository) EnsureSymptom(ctx context.Context, s *model.Symptom) (bool, error) {
	query := `
		INSERT INTO symptoms (name, description, category, severity_weight, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at, (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowxContext(ctx, query, s.Name, s.Description, s.Category, s.SeverityWeight, s.IsActive).
		Scan(&s.ID, &s.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to ensure symptom %q: %w", s.Name, err)
	}
	return inserted, nil
}

func (r *catalogRepository) EnsureDisease(ctx context.Context, d *model.Disease) (bool, error) {
	query := `
		INSERT INTO diseases (
			name, description, category, severity_level, treatment_advice,
			when_to_see_doctor, prevention_tips, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at, (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowxContext(ctx, query,
		d.Name, d.Description, d.Category, d.SeverityLevel, d.TreatmentAdvice,
		d.WhenToSeeDoctor, d.PreventionTips, d.IsActive,
	).Scan(&d.ID, &d.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to ensure disease %q: %w", d.Name, err)
	}
	return inserted, nil
}

func (r *catalogRepository) EnsureAssociation(ctx context.Context, a *model.DiseaseSymptom) (bool, error) {
	query := `
		INSERT INTO disease_symptoms (disease_id, symptom_id, probability, is_primary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (disease_id, symptom_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, a.DiseaseID, a.SymptomID, a.Probability, a.IsPrimary)
	if err != nil {
		return false, fmt.Errorf("failed to ensure disease symptom: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
