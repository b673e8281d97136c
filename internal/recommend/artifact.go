// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package recommend

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// artifactName is the single model family this service stores.
const artifactName = "als"

// Model is the serializable trained state an artifact carries.
type Model struct {
	Factors             int
	Alpha               float64
	Regularization      float64
	Variant             FeatureVariant
	FitFeaturesTogether bool

	Dim       int
	X         [][]float64
	Y         [][]float64
	UserIndex map[int64]int
	ItemIndex map[int64]int
	Items     []int64
}

// Export snapshots a trained ALS into its artifact form.
func (a *ALS) Export() *Model {
	return &Model{
		Factors:             a.cfg.Factors,
		Alpha:               a.cfg.Alpha,
		Regularization:      a.cfg.Regularization,
		Variant:             a.cfg.Variant,
		FitFeaturesTogether: a.cfg.FitFeaturesTogether,
		Dim:                 a.dim,
		X:                   a.X,
		Y:                   a.Y,
		UserIndex:           a.userIndex,
		ItemIndex:           a.itemIndex,
		Items:               a.Items(),
	}
}

// ScoredPaper is one ranked recommendation with its model score.
type ScoredPaper struct {
	PaperID int64   `json:"paper_id"`
	Score   float64 `json:"score"`
}

// TopKScored returns the k highest-scoring items for a user with their
// scores, excluding the given item set. A nil slice means the user is
// unknown to the model.
func (m *Model) TopKScored(userID int64, k int, exclude map[int64]struct{}) []ScoredPaper {
	ui, ok := m.UserIndex[userID]
	if !ok {
		return nil
	}
	x := m.X[ui]

	ranked := make([]ScoredPaper, 0, len(m.Items))
	for _, item := range m.Items {
		if _, skip := exclude[item]; skip {
			continue
		}
		y := m.Y[m.ItemIndex[item]]
		var s float64
		for f := range x {
			s += x[f] * y[f]
		}
		ranked = append(ranked, ScoredPaper{PaperID: item, Score: s})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].PaperID < ranked[j].PaperID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// TopK is TopKScored reduced to the item ids, for callers that only
// need the ranking.
func (m *Model) TopK(userID int64, k int, exclude map[int64]struct{}) []int64 {
	ranked := m.TopKScored(userID, k, exclude)
	if ranked == nil {
		return nil
	}
	items := make([]int64, len(ranked))
	for i, r := range ranked {
		items[i] = r.PaperID
	}
	return items
}

// Metadata describes one stored artifact. It is JSON-encodable for the
// ops endpoint.
type Metadata struct {
	Version             int                `json:"version"`
	Factors             int                `json:"factors"`
	Alpha               float64            `json:"alpha"`
	Regularization      float64            `json:"regularization"`
	Variant             FeatureVariant     `json:"variant"`
	FitFeaturesTogether bool               `json:"fit_features_together"`
	Metrics             map[string]float64 `json:"metrics"`
	Interactions        int                `json:"interactions"`
	TrainedAt           time.Time          `json:"trained_at"`
	Checksum            string             `json:"checksum"`
}

// artifactFile is the on-disk envelope: metadata plus the checksummed,
// gzip-compressed gob payload.
type artifactFile struct {
	Meta           Metadata
	Checksum       [sha256.Size]byte
	CompressedData []byte
}

// ArtifactStore persists versioned model artifacts. Training always
// writes a new version; old versions are superseded, never deleted.
type ArtifactStore struct {
	baseDir string

	mu       sync.Mutex
	versions []int
}

// NewArtifactStore opens (creating if needed) the artifact directory and
// scans existing versions.
func NewArtifactStore(baseDir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	s := &ArtifactStore{baseDir: baseDir}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	for _, e := range entries {
		if v, ok := parseArtifactFilename(e.Name()); ok {
			s.versions = append(s.versions, v)
		}
	}
	sort.Ints(s.versions)
	return s, nil
}

// Save writes the model as the next version and returns its metadata.
func (s *ArtifactStore) Save(model *Model, meta Metadata) (Metadata, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(model); err != nil {
		return Metadata{}, fmt.Errorf("failed to encode model: %w", err)
	}
	checksum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return Metadata{}, fmt.Errorf("failed to compress model: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return Metadata{}, fmt.Errorf("failed to finish compression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Version numbers are claimed across processes sharing the artifact
	// directory, not just across goroutines: rescan the directory for the
	// highest version, then take the next one with an exclusive create.
	// Losing the create race to another writer means that version now
	// exists on disk; record it and claim the one after.
	for {
		highest, err := s.highestVersion()
		if err != nil {
			return Metadata{}, err
		}
		version := highest + 1

		path := s.artifactPath(version)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			s.noteVersion(version)
			continue
		}
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to create artifact %s: %w", path, err)
		}

		meta.Version = version
		meta.Checksum = fmt.Sprintf("%x", checksum)
		encErr := gob.NewEncoder(f).Encode(artifactFile{
			Meta:           meta,
			Checksum:       checksum,
			CompressedData: compressed.Bytes(),
		})
		if closeErr := f.Close(); encErr == nil {
			encErr = closeErr
		}
		if encErr != nil {
			return Metadata{}, fmt.Errorf("failed to write artifact %s: %w", path, encErr)
		}

		s.noteVersion(version)
		return meta, nil
	}
}

// highestVersion returns the newest version either remembered in memory
// or present on disk. Zero means the store is empty.
func (s *ArtifactStore) highestVersion() (int, error) {
	highest := 0
	if n := len(s.versions); n > 0 {
		highest = s.versions[n-1]
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	for _, e := range entries {
		if v, ok := parseArtifactFilename(e.Name()); ok && v > highest {
			highest = v
		}
	}
	return highest, nil
}

// noteVersion records a version in the sorted in-memory list.
func (s *ArtifactStore) noteVersion(version int) {
	for _, v := range s.versions {
		if v == version {
			return
		}
	}
	s.versions = append(s.versions, version)
	sort.Ints(s.versions)
}

// Latest loads the newest artifact, including versions written by other
// processes since the store was opened. ErrNoArtifact when none exists.
func (s *ArtifactStore) Latest() (*Model, *Metadata, error) {
	s.mu.Lock()
	version, err := s.highestVersion()
	if err == nil && version > 0 {
		s.noteVersion(version)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, nil, err
	}
	if version == 0 {
		return nil, nil, ErrNoArtifact
	}
	return s.Load(version)
}

// Load reads one artifact version, verifying integrity.
func (s *ArtifactStore) Load(version int) (*Model, *Metadata, error) {
	path := s.artifactPath(version)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNoArtifact
		}
		return nil, nil, fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var af artifactFile
	if err := gob.NewDecoder(f).Decode(&af); err != nil {
		return nil, nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(af.CompressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress artifact %s: %w", path, err)
	}
	defer func() { _ = gzr.Close() }() //nolint:errcheck // close after full read is not actionable

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(gzr); err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	if sha256.Sum256(raw.Bytes()) != af.Checksum {
		return nil, nil, fmt.Errorf("artifact %s is corrupt: checksum mismatch", path)
	}

	var model Model
	if err := gob.NewDecoder(bytes.NewReader(raw.Bytes())).Decode(&model); err != nil {
		return nil, nil, fmt.Errorf("failed to decode model from %s: %w", path, err)
	}
	return &model, &af.Meta, nil
}

// LatestMetadata returns the newest artifact's metadata without loading
// the model payload into memory twice.
func (s *ArtifactStore) LatestMetadata() (*Metadata, error) {
	_, meta, err := s.Latest()
	return meta, err
}

func (s *ArtifactStore) artifactPath(version int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_v%d.gob.gz", artifactName, version))
}

// parseArtifactFilename extracts the version from {name}_v{version}.gob.gz.
func parseArtifactFilename(name string) (int, bool) {
	if !strings.HasSuffix(name, ".gob.gz") {
		return 0, false
	}
	base := strings.TrimSuffix(name, ".gob.gz")
	prefix := artifactName + "_v"
	if !strings.HasPrefix(base, prefix) {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimPrefix(base, prefix))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
