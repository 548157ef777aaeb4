// Package gputelemetry defines the interface the system-curator worker
// uses to populate GPUResource telemetry columns. The concrete CSV
// parser that reads nvidia-smi-style output on the HPC host is an
// external collaborator (spec.md §1); this package only specifies the
// seam and ships a static test double.
package gputelemetry

import "context"

// Sample is one GPU's telemetry reading.
type Sample struct {
	GPUID          string
	UtilizationPct float64
	MemoryUsedMB   float64
	TemperatureC   float64
}

// Source reads the current telemetry snapshot for every known GPU.
type Source interface {
	Read(ctx context.Context) ([]Sample, error)
}

// StaticSource always returns a fixed snapshot; used when
// gputelemetry.source = "static" ("disabled" selects Disabled instead).
type StaticSource struct {
	Samples []Sample
}

func (s StaticSource) Read(ctx context.Context) ([]Sample, error) {
	return s.Samples, nil
}

// Disabled reports a telemetry source that never has anything to report,
// so the system-curator's tick is a safe no-op when telemetry ingestion
// isn't wired to a real collector.
type Disabled struct{}

func (Disabled) Read(ctx context.Context) ([]Sample, error) {
	return nil, nil
}
