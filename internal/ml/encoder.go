package ml

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims a symptom or disease name and converts it to NFC so
// that decomposed Vietnamese diacritics compare equal to catalog names.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Encoder turns symptom names into feature vectors over a fixed column
// order captured at training time.
type Encoder struct {
	order []string
	index map[string]int
}

func NewEncoder(order []string) *Encoder {
	index := make(map[string]int, len(order))
	for i, name := range order {
		index[NormalizeName(name)] = i
	}
	return &Encoder{
		order: append([]string(nil), order...),
		index: index,
	}
}

func (e *Encoder) Len() int {
	return len(e.order)
}

// Order returns a copy of the column order.
func (e *Encoder) Order() []string {
	return append([]string(nil), e.order...)
}

// Index reports the column of a symptom name.
func (e *Encoder) Index(name string) (int, bool) {
	i, ok := e.index[NormalizeName(name)]
	return i, ok
}

// Encode returns a binary presence vector of length Len() and the selected
// names that are not part of the order.
func (e *Encoder) Encode(selected []string) ([]float64, []string) {
	vec := make([]float64, len(e.order))
	var unknown []string
	for _, name := range selected {
		if i, ok := e.Index(name); ok {
			vec[i] = 1.0
			continue
		}
		unknown = append(unknown, name)
	}
	return vec, unknown
}

// IsZero reports whether no slot of the vector is set.
func IsZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
