package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrArtifactNotFound covers every way an artifact can be unusable: missing
// pointer, missing part, checksum mismatch or inconsistent parts.
var ErrArtifactNotFound = errors.New("model artifact not found")

const (
	currentFile   = "CURRENT"
	manifestFile  = "manifest.json"
	modelFile     = "model.json"
	symptomsFile  = "symptoms.json"
	diseasesFile  = "diseases.json"
	versionPrefix = "v"
)

// Manifest describes one published artifact version.
type Manifest struct {
	Version       string            `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	Samples       int               `json:"samples"`
	TrainSamples  int               `json:"train_samples"`
	TestSamples   int               `json:"test_samples"`
	SplitStrategy SplitStrategy     `json:"split_strategy"`
	SplitReason   string            `json:"split_reason,omitempty"`
	Accuracy      float64           `json:"accuracy"`
	Symptoms      int               `json:"symptoms"`
	Diseases      int               `json:"diseases"`
	Params        ForestParams      `json:"params"`
	Checksums     map[string]string `json:"checksums"`
}

// Artifact couples the forest with the symptom order and disease labels it
// was trained on. The three parts are saved and loaded together.
type Artifact struct {
	Manifest      Manifest
	Forest        *Forest
	SymptomOrder  []string
	DiseaseLabels []string
}

func (a *Artifact) validate() error {
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return errors.New("forest is empty")
	}
	if len(a.SymptomOrder) != a.Forest.NFeatures {
		return fmt.Errorf("symptom order has %d entries, forest expects %d", len(a.SymptomOrder), a.Forest.NFeatures)
	}
	if len(a.DiseaseLabels) != len(a.Forest.Classes) {
		return fmt.Errorf("disease labels have %d entries, forest has %d classes", len(a.DiseaseLabels), len(a.Forest.Classes))
	}
	for i, label := range a.DiseaseLabels {
		if a.Forest.Classes[i] != label {
			return fmt.Errorf("disease label %d is %q, forest class is %q", i, label, a.Forest.Classes[i])
		}
	}
	return nil
}

// ArtifactStore keeps artifact versions under root. Each Save writes a new
// version directory and then swaps the CURRENT pointer with a rename, so a
// reader following CURRENT never sees a partial version.
type ArtifactStore struct {
	root string
	keep int
}

func NewArtifactStore(root string, keep int) *ArtifactStore {
	if keep < 1 {
		keep = 3
	}
	return &ArtifactStore{root: root, keep: keep}
}

func (s *ArtifactStore) Root() string {
	return s.root
}

// Save publishes the artifact as a new version and returns its manifest.
func (s *ArtifactStore) Save(a *Artifact) (*Manifest, error) {
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("refusing to save artifact: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	now := time.Now().UTC()
	dir, err := os.MkdirTemp(s.root, versionPrefix+now.Format("20060102T150405.000000000")+"-")
	if err != nil {
		return nil, fmt.Errorf("create version dir: %w", err)
	}

	manifest := a.Manifest
	manifest.Version = filepath.Base(dir)
	manifest.CreatedAt = now
	manifest.Symptoms = len(a.SymptomOrder)
	manifest.Diseases = len(a.DiseaseLabels)
	manifest.Params = a.Forest.Params
	manifest.Checksums = make(map[string]string, 3)

	parts := []struct {
		name string
		v    interface{}
	}{
		{modelFile, a.Forest},
		{symptomsFile, a.SymptomOrder},
		{diseasesFile, a.DiseaseLabels},
	}
	for _, part := range parts {
		sum, err := writeJSON(filepath.Join(dir, part.name), part.v)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("write %s: %w", part.name, err)
		}
		manifest.Checksums[part.name] = sum
	}
	if _, err := writeJSON(filepath.Join(dir, manifestFile), manifest); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := s.publish(manifest.Version); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	s.prune(manifest.Version)
	return &manifest, nil
}

func (s *ArtifactStore) publish(version string) error {
	tmp, err := os.CreateTemp(s.root, ".current-*")
	if err != nil {
		return fmt.Errorf("create pointer: %w", err)
	}
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write pointer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close pointer: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, currentFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish pointer: %w", err)
	}
	return nil
}

// Current returns the published version name.
func (s *ArtifactStore) Current() (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	version := strings.TrimSpace(string(raw))
	if version == "" || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("%w: invalid pointer %q", ErrArtifactNotFound, version)
	}
	return version, nil
}

// Load reads the published version. Any missing, corrupt or inconsistent
// part yields ErrArtifactNotFound.
func (s *ArtifactStore) Load() (*Artifact, error) {
	version, err := s.Current()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, version)

	var manifest Manifest
	if _, err := readJSON(filepath.Join(dir, manifestFile), &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrArtifactNotFound, err)
	}

	a := &Artifact{Manifest: manifest}
	parts := []struct {
		name string
		v    interface{}
	}{
		{modelFile, &a.Forest},
		{symptomsFile, &a.SymptomOrder},
		{diseasesFile, &a.DiseaseLabels},
	}
	for _, part := range parts {
		sum, err := readJSON(filepath.Join(dir, part.name), part.v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArtifactNotFound, part.name, err)
		}
		if want := manifest.Checksums[part.name]; want != sum {
			return nil, fmt.Errorf("%w: %s checksum mismatch", ErrArtifactNotFound, part.name)
		}
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	return a, nil
}

// Versions lists version directories oldest first.
func (s *ArtifactStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), versionPrefix) {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *ArtifactStore) prune(current string) {
	versions, err := s.Versions()
	if err != nil || len(versions) <= s.keep {
		return
	}
	for _, v := range versions[:len(versions)-s.keep] {
		if v == current {
			continue
		}
		os.RemoveAll(filepath.Join(s.root, v))
	}
}

func writeJSON(path string, v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return checksum(payload), nil
}

func readJSON(path string, v interface{}) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return "", err
	}
	return checksum(payload), nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
