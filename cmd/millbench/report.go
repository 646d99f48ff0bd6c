package main

import (
	"context"
	"time"

	"github.com/tahsin716/taskmill"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type report struct {
	Workload   string           `yaml:"workload"`
	Scheduler  string           `yaml:"scheduler"`
	Elapsed    string           `yaml:"elapsed"`
	JobsPerSec float64          `yaml:"jobs_per_sec"`
	Result     any              `yaml:"result,omitempty"`
	Stats      statsReport      `yaml:"stats"`
	Metrics    map[string]int64 `yaml:"metrics,omitempty"`
}

type statsReport struct {
	Submitted int64        `yaml:"submitted"`
	Executed  int64        `yaml:"executed"`
	Stolen    int64        `yaml:"stolen"`
	Failed    int64        `yaml:"failed"`
	Busy      int64        `yaml:"busy"`
	Dropped   int64        `yaml:"dropped"`
	Loops     []loopReport `yaml:"loops"`
}

type loopReport struct {
	Name          string `yaml:"name"`
	Executed      int64  `yaml:"executed"`
	Stolen        int64  `yaml:"stolen"`
	DequeCapacity int    `yaml:"deque_capacity,omitempty"`
	Retired       int    `yaml:"retired,omitempty"`
}

func newReport(workload string, s *taskmill.Scheduler, elapsed time.Duration, result any) report {
	st := s.Stats()
	rep := report{
		Workload:  workload,
		Scheduler: s.ID(),
		Elapsed:   elapsed.String(),
		Result:    result,
		Stats: statsReport{
			Submitted: st.Submitted,
			Executed:  st.Executed,
			Stolen:    st.Stolen,
			Failed:    st.Failed,
			Busy:      st.Busy,
			Dropped:   st.Dropped,
		},
	}
	if secs := elapsed.Seconds(); secs > 0 {
		rep.JobsPerSec = float64(st.Executed) / secs
	}
	for _, ls := range append(st.Workers, st.Render) {
		rep.Stats.Loops = append(rep.Stats.Loops, loopReport{
			Name:          ls.Name,
			Executed:      ls.Executed,
			Stolen:        ls.Stolen,
			DequeCapacity: ls.DequeCapacity,
			Retired:       ls.Retired,
		})
	}
	return rep
}

// collectMetrics reads every int64 instrument once, summing over attributes.
func collectMetrics(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out, nil
}
