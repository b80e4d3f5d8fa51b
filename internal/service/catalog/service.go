package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/validator"
)

type CatalogServicer interface {
	AvailableSymptoms(ctx context.Context) ([]model.SymptomGroup, error)
	Stats(ctx context.Context) (*model.CatalogStats, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	Seed(ctx context.Context, seed *SeedCatalog) (*SeedResult, error)
}

// Snapshot is the catalog state a model is trained from.
type Snapshot struct {
	Symptoms     []*model.Symptom
	Diseases     []*model.Disease
	Associations []*model.DiseaseSymptom
}

type Service struct {
	repo      repository.CatalogRepository
	validator validator.Validator
	log       *logger.Logger
}

func NewService(repo repository.CatalogRepository, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator.New(),
		log:       log.WithComponent("catalog"),
	}
}

// AvailableSymptoms returns the active symptoms grouped by category, groups
// and entries ordered by category then name.
func (s *Service) AvailableSymptoms(ctx context.Context) ([]model.SymptomGroup, error) {
	symptoms, err := s.repo.ListSymptoms(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load symptoms: %w", err)
	}
	sort.SliceStable(symptoms, func(i, j int) bool {
		if symptoms[i].Category != symptoms[j].Category {
			return symptoms[i].Category < symptoms[j].Category
		}
		return symptoms[i].Name < symptoms[j].Name
	})

	groups := make([]model.SymptomGroup, 0)
	for _, sym := range symptoms {
		if n := len(groups); n == 0 || groups[n-1].Category != string(sym.Category) {
			groups = append(groups, model.SymptomGroup{
				Category: string(sym.Category),
				Label:    sym.Category.Label(),
			})
		}
		g := &groups[len(groups)-1]
		g.Symptoms = append(g.Symptoms, model.SymptomOption{
			ID:          sym.ID,
			Name:        sym.Name,
			Description: sym.Description,
		})
	}
	return groups, nil
}

func (s *Service) Stats(ctx context.Context) (*model.CatalogStats, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.CatalogStats{
		ActiveSymptoms: len(snap.Symptoms),
		ActiveDiseases: len(snap.Diseases),
		Associations:   len(snap.Associations),
		PerDisease:     make(map[string]int, len(snap.Diseases)),
	}
	names := make(map[int64]string, len(snap.Diseases))
	for _, d := range snap.Diseases {
		names[d.ID] = d.Name
		stats.PerDisease[d.Name] = 0
	}
	for _, a := range snap.Associations {
		if name, ok := names[a.DiseaseID]; ok {
			stats.PerDisease[name]++
		}
	}
	return stats, nil
}

// Snapshot reads the active symptoms and diseases with all associations.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	symptoms, err := s.repo.ListSymptoms(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load symptoms: %w", err)
	}
	diseases, err := s.repo.ListDiseases(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load diseases: %w", err)
	}
	assoc, err := s.repo.ListAssociations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load associations: %w", err)
	}
	return &Snapshot{Symptoms: symptoms, Diseases: diseases, Associations: assoc}, nil
}
