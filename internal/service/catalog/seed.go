package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/model"
)

const defaultSeverityWeight = 1.0

// SeedCatalog is the YAML document accepted by Seed.
type SeedCatalog struct {
	Symptoms []SeedSymptom `yaml:"symptoms" validate:"required,min=1,dive"`
	Diseases []SeedDisease `yaml:"diseases" validate:"dive"`
}

type SeedSymptom struct {
	Name           string  `yaml:"name" validate:"required,max=100"`
	Description    string  `yaml:"description"`
	Category       string  `yaml:"category" validate:"required,symptom_category"`
	SeverityWeight float64 `yaml:"severity_weight" validate:"gte=0,lte=10"`
}

type SeedDisease struct {
	Name            string            `yaml:"name" validate:"required,max=100"`
	Description     string            `yaml:"description"`
	Category        string            `yaml:"category" validate:"required,disease_category"`
	SeverityLevel   string            `yaml:"severity_level" validate:"required,severity_level"`
	TreatmentAdvice string            `yaml:"treatment_advice"`
	WhenToSeeDoctor string            `yaml:"when_to_see_doctor"`
	PreventionTips  string            `yaml:"prevention_tips"`
	Symptoms        []SeedAssociation `yaml:"symptoms" validate:"dive"`
}

type SeedAssociation struct {
	Name        string  `yaml:"name" validate:"required"`
	Probability float64 `yaml:"probability" validate:"gte=0,lte=1"`
	Primary     bool    `yaml:"primary"`
}

// SeedResult counts what a Seed run inserted. Rows that already existed are
// not counted.
type SeedResult struct {
	SymptomsCreated     int      `json:"symptoms_created"`
	DiseasesCreated     int      `json:"diseases_created"`
	AssociationsCreated int      `json:"associations_created"`
	UnknownSymptoms     []string `json:"unknown_symptoms,omitempty"`
}

// LoadSeedFile parses a seed catalog from disk. Unknown keys are rejected.
func LoadSeedFile(path string) (*SeedCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*SeedCatalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var seed SeedCatalog
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed catalog: %w", err)
	}
	return &seed, nil
}

// Seed get-or-creates every symptom, disease and association of the seed.
// Existing rows are left untouched, so running it twice is a no-op.
// Associations naming a symptom absent from the catalog are skipped.
func (s *Service) Seed(ctx context.Context, seed *SeedCatalog) (*SeedResult, error) {
	if err := s.validator.Validate(seed); err != nil {
		return nil, fmt.Errorf("invalid seed catalog: %w", err)
	}

	result := &SeedResult{}
	symptomIDs := make(map[string]int64, len(seed.Symptoms))

	for _, entry := range seed.Symptoms {
		weight := entry.SeverityWeight
		if weight == 0 {
			weight = defaultSeverityWeight
		}
		sym := &model.Symptom{
			Name:           ml.NormalizeName(entry.Name),
			Description:    entry.Description,
			Category:       model.SymptomCategory(entry.Category),
			SeverityWeight: weight,
			IsActive:       true,
		}
		created, err := s.repo.EnsureSymptom(ctx, sym)
		if err != nil {
			return result, err
		}
		if created {
			result.SymptomsCreated++
			s.log.Info("Created symptom", "name", sym.Name)
		}
		symptomIDs[sym.Name] = sym.ID
	}

	for _, entry := range seed.Diseases {
		disease := &model.Disease{
			Name:            ml.NormalizeName(entry.Name),
			Description:     entry.Description,
			Category:        model.DiseaseCategory(entry.Category),
			SeverityLevel:   model.SeverityLevel(entry.SeverityLevel),
			TreatmentAdvice: entry.TreatmentAdvice,
			WhenToSeeDoctor: entry.WhenToSeeDoctor,
			PreventionTips:  entry.PreventionTips,
			IsActive:        true,
		}
		created, err := s.repo.EnsureDisease(ctx, disease)
		if err != nil {
			return result, err
		}
		if created {
			result.DiseasesCreated++
			s.log.Info("Created disease", "name", disease.Name)
		}

		if err := s.seedAssociations(ctx, disease, entry.Symptoms, symptomIDs, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *Service) seedAssociations(ctx context.Context, disease *model.Disease, entries []SeedAssociation, known map[string]int64, result *SeedResult) error {
	var missing []string
	for _, entry := range entries {
		name := ml.NormalizeName(entry.Name)
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	// Symptoms created by an earlier seed are still valid targets.
	if len(missing) > 0 {
		found, err := s.repo.FindSymptomsByName(ctx, missing)
		if err != nil {
			return err
		}
		for _, sym := range found {
			known[ml.NormalizeName(sym.Name)] = sym.ID
		}
	}

	for _, entry := range entries {
		name := ml.NormalizeName(entry.Name)
		id, ok := known[name]
		if !ok {
			s.log.Warn("Symptom not found, skipping association", "disease", disease.Name, "symptom", name)
			result.UnknownSymptoms = append(result.UnknownSymptoms, name)
			continue
		}
		created, err := s.repo.EnsureAssociation(ctx, &model.DiseaseSymptom{
			DiseaseID:   disease.ID,
			SymptomID:   id,
			SymptomName: name,
			Probability: entry.Probability,
			IsPrimary:   entry.Primary,
		})
		if err != nil {
			return err
		}
		if created {
			result.AssociationsCreated++
		}
	}
	return nil
}
