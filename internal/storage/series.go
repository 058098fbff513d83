package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/metrics"
	"github.com/san-kum/nbodycl/internal/particle"
)

var seriesHeader = []string{"step", "energy", "momentum", "upload_s", "dispatch_s", "readback_s", "total_s"}

// SeriesRow is one committed step. Energy is NaN on steps that were not
// sampled.
type SeriesRow struct {
	Step     int
	Energy   float64
	Momentum float64
	Upload   time.Duration
	Dispatch time.Duration
	Readback time.Duration
	Total    time.Duration
}

// Recorder collects a SeriesRow per step. Energy is taken from drift, which
// the simulator feeds before observers run; a nil drift leaves it NaN.
type Recorder struct {
	drift *metrics.EnergyDrift
	every int
	rows  []SeriesRow
}

func NewRecorder(drift *metrics.EnergyDrift, every int) *Recorder {
	if every < 1 {
		every = 1
	}
	return &Recorder{drift: drift, every: every}
}

func (r *Recorder) OnStep(step int, buf *particle.Buffer, timing dynamo.Timing) {
	energy := math.NaN()
	if r.drift != nil && (step+1)%r.every == 0 {
		energy = r.drift.Current()
	}
	p := metrics.TotalMomentum(buf.Masses(), buf.Velocities())
	r.rows = append(r.rows, SeriesRow{
		Step:     step,
		Energy:   energy,
		Momentum: math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]),
		Upload:   timing.Upload + timing.Bind,
		Dispatch: timing.Dispatch,
		Readback: timing.Readback,
		Total:    timing.Total(),
	})
}

func (r *Recorder) Rows() []SeriesRow { return r.rows }

func WriteSeries(w io.Writer, rows []SeriesRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(seriesHeader); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{
			strconv.Itoa(row.Step),
			strconv.FormatFloat(row.Energy, 'g', -1, 64),
			strconv.FormatFloat(row.Momentum, 'g', -1, 64),
			strconv.FormatFloat(row.Upload.Seconds(), 'g', -1, 64),
			strconv.FormatFloat(row.Dispatch.Seconds(), 'g', -1, 64),
			strconv.FormatFloat(row.Readback.Seconds(), 'g', -1, 64),
			strconv.FormatFloat(row.Total.Seconds(), 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadSeries(r io.Reader) ([]SeriesRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(seriesHeader)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []SeriesRow{}, nil
	}

	rows := make([]SeriesRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		step, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("series line %d: %w", i+2, err)
		}
		vals := make([]float64, len(rec)-1)
		for j, field := range rec[1:] {
			if vals[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("series line %d, %s: %w", i+2, seriesHeader[j+1], err)
			}
		}
		rows = append(rows, SeriesRow{
			Step:     step,
			Energy:   vals[0],
			Momentum: vals[1],
			Upload:   seconds(vals[2]),
			Dispatch: seconds(vals[3]),
			Readback: seconds(vals[4]),
			Total:    seconds(vals[5]),
		})
	}
	return rows, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
