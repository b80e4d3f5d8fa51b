package ml

import "github.com/jwalitptl/diagnosis-api/internal/model"

type catalogFixture struct {
	symptoms     []*model.Symptom
	diseases     []*model.Disease
	associations []*model.DiseaseSymptom
}

func (f *catalogFixture) symptom(name string, category model.SymptomCategory) *model.Symptom {
	s := &model.Symptom{
		ID:             int64(len(f.symptoms) + 1),
		Name:           name,
		Category:       category,
		SeverityWeight: 1.0,
		IsActive:       true,
	}
	f.symptoms = append(f.symptoms, s)
	return s
}

func (f *catalogFixture) disease(name string, probs map[string]float64) *model.Disease {
	d := &model.Disease{
		ID:            int64(len(f.diseases) + 1),
		Name:          name,
		Category:      model.DiseaseCategoryInfection,
		SeverityLevel: model.SeverityLow,
		IsActive:      true,
	}
	f.diseases = append(f.diseases, d)
	for symptom, p := range probs {
		for _, s := range f.symptoms {
			if s.Name == symptom {
				f.associations = append(f.associations, &model.DiseaseSymptom{
					DiseaseID:   d.ID,
					SymptomID:   s.ID,
					SymptomName: s.Name,
					Probability: p,
				})
			}
		}
	}
	return d
}

func (f *catalogFixture) build(opts DatasetOptions) (*Dataset, error) {
	return BuildDataset(f.symptoms, f.diseases, f.associations, opts)
}

// fluThroatCatalog is the two-disease catalog of the flu/pharyngitis scenario.
func fluThroatCatalog() *catalogFixture {
	f := &catalogFixture{}
	f.symptom("Sốt", model.SymptomCategoryGeneral)
	f.symptom("Mệt mỏi", model.SymptomCategoryGeneral)
	f.symptom("Ho", model.SymptomCategoryRespiratory)
	f.symptom("Đau họng", model.SymptomCategoryRespiratory)
	f.symptom("Sổ mũi", model.SymptomCategoryRespiratory)
	f.symptom("Khó nuốt", model.SymptomCategoryDigestive)

	f.disease("Cảm cúm", map[string]float64{"Sốt": 0.8, "Ho": 0.9, "Đau họng": 0.8, "Sổ mũi": 0.9, "Mệt mỏi": 0.7})
	f.disease("Viêm họng", map[string]float64{"Đau họng": 0.95, "Khó nuốt": 0.8, "Sốt": 0.6})
	return f
}

// wideCatalog has four rows per label so the stratified branch runs.
func wideCatalog() *catalogFixture {
	f := &catalogFixture{}
	names := []string{"A", "B", "C", "D", "E", "F"}
	for _, n := range names {
		f.symptom("s"+n, model.SymptomCategoryGeneral)
	}
	for i := 0; i < 4; i++ {
		for j, d := range []string{"alpha", "beta", "gamma"} {
			base := float64(i+1) / 10
			probs := map[string]float64{
				"s" + names[j*2]:   0.5 + base,
				"s" + names[j*2+1]: 0.4 + base,
			}
			f.disease(d, probs)
		}
	}
	return f
}
