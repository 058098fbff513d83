package storage

import (
	"encoding/json"
	"io"
	"math"
)

type ExportData struct {
	Run       RunMetadata  `json:"run"`
	Steps     []int        `json:"steps"`
	Energy    []*float64   `json:"energy"`
	Momentum  []float64    `json:"momentum"`
	DispatchS []float64    `json:"dispatch_s"`
	Final     *ExportState `json:"final,omitempty"`
}

// ExportState is the final population as plain arrays.
type ExportState struct {
	Masses     []float32    `json:"masses"`
	Positions  [][3]float32 `json:"positions"`
	Velocities [][3]float32 `json:"velocities"`
}

// Export writes a JSON summary of a stored run. withState adds the final
// population.
func (s *Store) Export(w io.Writer, runID string, withState bool) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	series, err := s.LoadSeries(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Run:       *meta,
		Steps:     make([]int, len(series)),
		Energy:    make([]*float64, len(series)),
		Momentum:  make([]float64, len(series)),
		DispatchS: make([]float64, len(series)),
	}
	for i, row := range series {
		data.Steps[i] = row.Step
		if !math.IsNaN(row.Energy) {
			e := row.Energy
			data.Energy[i] = &e
		}
		data.Momentum[i] = row.Momentum
		data.DispatchS[i] = row.Dispatch.Seconds()
	}

	if withState {
		buf, _, err := s.LoadPopulation(runID)
		if err != nil {
			return err
		}
		defer buf.Close()
		st := &ExportState{
			Masses:     append([]float32(nil), buf.Masses()...),
			Positions:  make([][3]float32, buf.N()),
			Velocities: make([][3]float32, buf.N()),
		}
		for i, p := range buf.Positions() {
			st.Positions[i] = [3]float32{p.X, p.Y, p.Z}
		}
		for i, v := range buf.Velocities() {
			st.Velocities[i] = [3]float32{v.X, v.Y, v.Z}
		}
		data.Final = st
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
