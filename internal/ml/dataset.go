package ml

import (
	"errors"
	"sort"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

var (
	ErrNoTrainingData      = errors.New("no training data available")
	ErrInsufficientClasses = errors.New("at least two distinct diseases are required to train")
)

type DatasetOptions struct {
	// BinaryFeatures sets training slots to 1.0 instead of the association
	// probability, matching the inference-time encoding.
	BinaryFeatures bool
}

// Dataset is one row per disease over the active symptom columns.
type Dataset struct {
	SymptomOrder []string
	Features     [][]float64
	Labels       []string
	// Skipped lists active diseases that have no associations.
	Skipped []string
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Classes returns the distinct labels in sorted order.
func (d *Dataset) Classes() []string {
	return uniqueSorted(d.Labels)
}

// BuildDataset derives the labeled training set from a catalog snapshot.
// Columns are the active symptoms ordered by category then name, rows are
// the active diseases ordered by name.
func BuildDataset(symptoms []*model.Symptom, diseases []*model.Disease, associations []*model.DiseaseSymptom, opts DatasetOptions) (*Dataset, error) {
	active := make([]*model.Symptom, 0, len(symptoms))
	for _, s := range symptoms {
		if s.IsActive {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoTrainingData
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Category != active[j].Category {
			return active[i].Category < active[j].Category
		}
		return active[i].Name < active[j].Name
	})

	ds := &Dataset{SymptomOrder: make([]string, len(active))}
	column := make(map[int64]int, len(active))
	for i, s := range active {
		ds.SymptomOrder[i] = NormalizeName(s.Name)
		column[s.ID] = i
	}

	byDisease := make(map[int64][]*model.DiseaseSymptom)
	for _, a := range associations {
		byDisease[a.DiseaseID] = append(byDisease[a.DiseaseID], a)
	}

	rows := make([]*model.Disease, 0, len(diseases))
	for _, d := range diseases {
		if d.IsActive {
			rows = append(rows, d)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	for _, d := range rows {
		assoc := byDisease[d.ID]
		if len(assoc) == 0 {
			ds.Skipped = append(ds.Skipped, d.Name)
			continue
		}
		vec := make([]float64, len(active))
		for _, a := range assoc {
			i, ok := column[a.SymptomID]
			if !ok {
				continue
			}
			if opts.BinaryFeatures {
				vec[i] = 1.0
			} else {
				vec[i] = a.Probability
			}
		}
		ds.Features = append(ds.Features, vec)
		ds.Labels = append(ds.Labels, NormalizeName(d.Name))
	}

	if ds.Len() == 0 {
		return ds, ErrNoTrainingData
	}
	if len(ds.Classes()) < 2 {
		return ds, ErrInsufficientClasses
	}
	return ds, nil
}

// Project re-expresses the dataset over another column order. Columns the
// dataset does not know stay zero.
func (d *Dataset) Project(order []string) [][]float64 {
	src := make(map[string]int, len(d.SymptomOrder))
	for i, name := range d.SymptomOrder {
		src[name] = i
	}
	out := make([][]float64, len(d.Features))
	for r, row := range d.Features {
		vec := make([]float64, len(order))
		for i, name := range order {
			if j, ok := src[NormalizeName(name)]; ok {
				vec[i] = row[j]
			}
		}
		out[r] = vec
	}
	return out
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
