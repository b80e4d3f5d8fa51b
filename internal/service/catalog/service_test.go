package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

type fakeCatalogRepo struct {
	symptoms     []*model.Symptom
	diseases     []*model.Disease
	associations []*model.DiseaseSymptom
	nextID       int64
	listErr      error
}

func (r *fakeCatalogRepo) ListSymptoms(_ context.Context, activeOnly bool) ([]*model.Symptom, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.Symptom
	for _, s := range r.symptoms {
		if !activeOnly || s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) ListDiseases(_ context.Context, activeOnly bool) ([]*model.Disease, error) {
	var out []*model.Disease
	for _, d := range r.diseases {
		if !activeOnly || d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) ListAssociations(context.Context) ([]*model.DiseaseSymptom, error) {
	return r.associations, nil
}

func (r *fakeCatalogRepo) GetActiveDiseaseByName(_ context.Context, name string) (*model.Disease, error) {
	for _, d := range r.diseases {
		if d.Name == name && d.IsActive {
			return d, nil
		}
	}
	return nil, errors.New("not found")
}

func (r *fakeCatalogRepo) FindSymptomsByName(_ context.Context, names []string) ([]*model.Symptom, error) {
	var out []*model.Symptom
	for _, n := range names {
		for _, s := range r.symptoms {
			if s.Name == n {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) EnsureSymptom(_ context.Context, s *model.Symptom) (bool, error) {
	for _, existing := range r.symptoms {
		if existing.Name == s.Name {
			s.ID = existing.ID
			return false, nil
		}
	}
	r.nextID++
	s.ID = r.nextID
	r.symptoms = append(r.symptoms, s)
	return true, nil
}

func (r *fakeCatalogRepo) EnsureDisease(_ context.Context, d *model.Disease) (bool, error) {
	for _, existing := range r.diseases {
		if existing.Name == d.Name {
			d.ID = existing.ID
			return false, nil
		}
	}
	r.nextID++
	d.ID = r.nextID
	r.diseases = append(r.diseases, d)
	return true, nil
}

func (r *fakeCatalogRepo) EnsureAssociation(_ context.Context, a *model.DiseaseSymptom) (bool, error) {
	for _, existing := range r.associations {
		if existing.DiseaseID == a.DiseaseID && existing.SymptomID == a.SymptomID {
			return false, nil
		}
	}
	r.associations = append(r.associations, a)
	return true, nil
}

func TestAvailableSymptomsGroupsByCategory(t *testing.T) {
	repo := &fakeCatalogRepo{symptoms: []*model.Symptom{
		{ID: 1, Name: "Sốt", Category: model.SymptomCategoryGeneral, IsActive: true},
		{ID: 2, Name: "Ho", Category: model.SymptomCategoryRespiratory, IsActive: true},
		{ID: 3, Name: "Mệt mỏi", Category: model.SymptomCategoryGeneral, IsActive: true},
		{ID: 4, Name: "Ngứa", Category: model.SymptomCategoryDermatological, IsActive: false},
	}}
	svc := NewService(repo, logger.Nop())

	groups, err := svc.AvailableSymptoms(context.Background())

	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "general", groups[0].Category)
	assert.Equal(t, "Triệu chứng chung", groups[0].Label)
	assert.Equal(t, []model.SymptomOption{{ID: 3, Name: "Mệt mỏi"}, {ID: 1, Name: "Sốt"}}, groups[0].Symptoms)
	assert.Equal(t, "Hô hấp", groups[1].Label)
}

func TestAvailableSymptomsEmptyCatalog(t *testing.T) {
	svc := NewService(&fakeCatalogRepo{}, logger.Nop())

	groups, err := svc.AvailableSymptoms(context.Background())

	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestAvailableSymptomsPropagatesErrors(t *testing.T) {
	svc := NewService(&fakeCatalogRepo{listErr: errors.New("db down")}, logger.Nop())

	_, err := svc.AvailableSymptoms(context.Background())

	assert.ErrorContains(t, err, "db down")
}

func TestStatsCountsAssociationsPerDisease(t *testing.T) {
	repo := &fakeCatalogRepo{
		symptoms: []*model.Symptom{{ID: 1, Name: "Sốt", IsActive: true}},
		diseases: []*model.Disease{
			{ID: 10, Name: "Cảm cúm", IsActive: true},
			{ID: 11, Name: "Đau nửa đầu", IsActive: true},
		},
		associations: []*model.DiseaseSymptom{{DiseaseID: 10, SymptomID: 1}},
	}
	svc := NewService(repo, logger.Nop())

	stats, err := svc.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveSymptoms)
	assert.Equal(t, 2, stats.ActiveDiseases)
	assert.Equal(t, map[string]int{"Cảm cúm": 1, "Đau nửa đầu": 0}, stats.PerDisease)
}
