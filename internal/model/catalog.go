package model

import "time"

type SymptomCategory string

const (
	SymptomCategoryGeneral         SymptomCategory = "general"
	SymptomCategoryRespiratory     SymptomCategory = "respiratory"
	SymptomCategoryDigestive       SymptomCategory = "digestive"
	SymptomCategoryNeurological    SymptomCategory = "neurological"
	SymptomCategoryCardiovascular  SymptomCategory = "cardiovascular"
	SymptomCategoryMusculoskeletal SymptomCategory = "musculoskeletal"
	SymptomCategoryDermatological  SymptomCategory = "dermatological"
	SymptomCategoryMental          SymptomCategory = "mental"
)

var symptomCategoryLabels = map[SymptomCategory]string{
	SymptomCategoryGeneral:         "Triệu chứng chung",
	SymptomCategoryRespiratory:     "Hô hấp",
	SymptomCategoryDigestive:       "Tiêu hóa",
	SymptomCategoryNeurological:    "Thần kinh",
	SymptomCategoryCardiovascular:  "Tim mạch",
	SymptomCategoryMusculoskeletal: "Cơ xương khớp",
	SymptomCategoryDermatological:  "Da liễu",
	SymptomCategoryMental:          "Tâm thần",
}

func (c SymptomCategory) Valid() bool {
	_, ok := symptomCategoryLabels[c]
	return ok
}

// Label returns the display name shown to portal users.
func (c SymptomCategory) Label() string {
	if label, ok := symptomCategoryLabels[c]; ok {
		return label
	}
	return string(c)
}

type DiseaseCategory string

const (
	DiseaseCategoryInfection  DiseaseCategory = "infection"
	DiseaseCategoryChronic    DiseaseCategory = "chronic"
	DiseaseCategoryAcute      DiseaseCategory = "acute"
	DiseaseCategoryAutoimmune DiseaseCategory = "autoimmune"
	DiseaseCategoryGenetic    DiseaseCategory = "genetic"
	DiseaseCategoryLifestyle  DiseaseCategory = "lifestyle"
	DiseaseCategoryMental     DiseaseCategory = "mental"
)

var diseaseCategoryLabels = map[DiseaseCategory]string{
	DiseaseCategoryInfection:  "Nhiễm trùng",
	DiseaseCategoryChronic:    "Bệnh mãn tính",
	DiseaseCategoryAcute:      "Bệnh cấp tính",
	DiseaseCategoryAutoimmune: "Tự miễn",
	DiseaseCategoryGenetic:    "Di truyền",
	DiseaseCategoryLifestyle:  "Lối sống",
	DiseaseCategoryMental:     "Tâm thần",
}

func (c DiseaseCategory) Valid() bool {
	_, ok := diseaseCategoryLabels[c]
	return ok
}

func (c DiseaseCategory) Label() string {
	if label, ok := diseaseCategoryLabels[c]; ok {
		return label
	}
	return string(c)
}

// SeverityLevel is ordered: low < medium < high < critical.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "low"
	SeverityMedium   SeverityLevel = "medium"
	SeverityHigh     SeverityLevel = "high"
	SeverityCritical SeverityLevel = "critical"
)

var severityRanks = map[SeverityLevel]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

var severityLabels = map[SeverityLevel]string{
	SeverityLow:      "Nhẹ",
	SeverityMedium:   "Trung bình",
	SeverityHigh:     "Nghiêm trọng",
	SeverityCritical: "Nguy hiểm",
}

func (s SeverityLevel) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the ordinal of the level, 0 for unknown values.
func (s SeverityLevel) Rank() int {
	return severityRanks[s]
}

func (s SeverityLevel) Label() string {
	if label, ok := severityLabels[s]; ok {
		return label
	}
	return string(s)
}

type Symptom struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Description    string          `db:"description" json:"description"`
	Category       SymptomCategory `db:"category" json:"category"`
	SeverityWeight float64         `db:"severity_weight" json:"severity_weight"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type Disease struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Description     string          `db:"description" json:"description"`
	Category        DiseaseCategory `db:"category" json:"category"`
	SeverityLevel   SeverityLevel   `db:"severity_level" json:"severity_level"`
	TreatmentAdvice string          `db:"treatment_advice" json:"treatment_advice"`
	WhenToSeeDoctor string          `db:"when_to_see_doctor" json:"when_to_see_doctor"`
	PreventionTips  string          `db:"prevention_tips" json:"prevention_tips"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// DiseaseSymptom links a disease to a symptom with the curated probability
// that the symptom appears given the disease.
type DiseaseSymptom struct {
	DiseaseID   int64   `db:"disease_id" json:"disease_id"`
	SymptomID   int64   `db:"symptom_id" json:"symptom_id"`
	SymptomName string  `db:"symptom_name" json:"symptom_name"`
	Probability float64 `db:"probability" json:"probability"`
	IsPrimary   bool    `db:"is_primary" json:"is_primary"`
}

// DiseaseInfo is the descriptive view returned by Explain.
type DiseaseInfo struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Severity        string `json:"severity"`
	SeverityLevel   string `json:"severity_level"`
	TreatmentAdvice string `json:"treatment_advice"`
	WhenToSeeDoctor string `json:"when_to_see_doctor"`
	PreventionTips  string `json:"prevention_tips"`
}

func NewDiseaseInfo(d *Disease) *DiseaseInfo {
	return &DiseaseInfo{
		Name:            d.Name,
		Description:     d.Description,
		Category:        d.Category.Label(),
		Severity:        d.SeverityLevel.Label(),
		SeverityLevel:   string(d.SeverityLevel),
		TreatmentAdvice: d.TreatmentAdvice,
		WhenToSeeDoctor: d.WhenToSeeDoctor,
		PreventionTips:  d.PreventionTips,
	}
}

// SymptomOption is one entry of the symptom picker grouped by category.
type SymptomOption struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SymptomGroup holds the active symptoms of one category.
type SymptomGroup struct {
	Category string          `json:"category"`
	Label    string          `json:"label"`
	Symptoms []SymptomOption `json:"symptoms"`
}

// CatalogStats summarises the catalog for diagnostics.
type CatalogStats struct {
	ActiveSymptoms int            `json:"active_symptoms"`
	ActiveDiseases int            `json:"active_diseases"`
	Associations   int            `json:"associations"`
	PerDisease     map[string]int `json:"per_disease"`
}
