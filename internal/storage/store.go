package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/san-kum/nbodycl/internal/particle"
)

const (
	metadataFile = "metadata.json"
	stateFile    = "state.bin"
	massesFile   = "masses.bin"
	seriesFile   = "series.csv"
)

var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Preset     string             `json:"preset,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Bodies     int                `json:"bodies"`
	Steps      int                `json:"steps"`
	StepsTaken int                `json:"steps_taken"`
	Completed  bool               `json:"completed"`
	Dt         float64            `json:"dt"`
	Softening  float64            `json:"softening"`
	G          float64            `json:"g"`
	Seed       int64              `json:"seed"`
	Integrator string             `json:"integrator"`
	Backend    string             `json:"backend"`
	From       string             `json:"from,omitempty"`
	ElapsedSec float64            `json:"elapsed_sec"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Save writes a run directory holding the metadata, the final particle state
// in the 32-byte record layout, the masses and the per-step series.
func (s *Store) Save(meta RunMetadata, buf *particle.Buffer, series []SeriesRow) (string, error) {
	if err := buf.Check(); err != nil {
		return "", err
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if meta.ID == "" {
		meta.ID = fmt.Sprintf("nbody%d_%d", buf.N(), meta.Timestamp.UnixNano())
	}
	meta.Bodies = buf.N()
	meta.Metrics = finite(meta.Metrics)

	runDir := s.Dir(meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	// metadata.json marks a run as complete, so it is removed first and
	// written last.
	metaPath := filepath.Join(runDir, metadataFile)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, stateFile), func(f *os.File) error {
		return particle.WriteBinary(f, buf.Pack())
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, massesFile), func(f *os.File) error {
		return particle.WriteMasses(f, buf.Masses())
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, seriesFile), func(f *os.File) error {
		return WriteSeries(f, series)
	}); err != nil {
		return "", err
	}
	if err := writeJSON(metaPath, meta); err != nil {
		return "", err
	}

	return meta.ID, nil
}

// finite drops values JSON cannot encode.
func finite(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeFile(path string, fill func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("metadata for %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadPopulation rebuilds the final particle state of a stored run.
func (s *Store) LoadPopulation(runID string) (*particle.Buffer, *RunMetadata, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, nil, err
	}

	mf, err := os.Open(filepath.Join(s.Dir(runID), massesFile))
	if err != nil {
		return nil, nil, err
	}
	defer mf.Close()
	masses, err := particle.ReadMasses(mf, meta.Bodies)
	if err != nil {
		return nil, nil, err
	}

	sf, err := os.Open(filepath.Join(s.Dir(runID), stateFile))
	if err != nil {
		return nil, nil, err
	}
	defer sf.Close()
	records, err := particle.ReadBinary(sf, meta.Bodies)
	if err != nil {
		return nil, nil, err
	}

	buf, err := particle.New(masses, records)
	if err != nil {
		return nil, nil, err
	}
	return buf, meta, nil
}

func (s *Store) LoadSeries(runID string) ([]SeriesRow, error) {
	f, err := os.Open(filepath.Join(s.Dir(runID), seriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}
	defer f.Close()
	return ReadSeries(f)
}
