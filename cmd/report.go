package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olp-runtime/olp/olp"
	"github.com/olp-runtime/olp/olp/hal"
	"github.com/olp-runtime/olp/olp/trace"
)

// runReport is the summary printed at the end of `olp run`.
type runReport struct {
	Seed                  int64          `json:"seed"`
	Scopes                int            `json:"scopes"`
	IterationsPerScope    int            `json:"iterations_per_scope"`
	WallTimeSeconds       float64        `json:"wall_time_seconds"`
	Executions            int64          `json:"executions"`
	PIMSelections         int64          `json:"pim_selections"`
	CPUSelections         int64          `json:"cpu_selections"`
	PIMPercentage         float64        `json:"pim_percentage"`
	TaskFailures          int64          `json:"task_failures"`
	Rollbacks             int64          `json:"rollbacks"`
	RecoveredFailures     int64          `json:"recovered_failures"`
	ProtocolViolations    int64          `json:"protocol_violations"`
	CheckpointsRegistered uint64         `json:"checkpoints_registered"`
	MeanConfidence        float64        `json:"mean_confidence"`
	Reasons               map[string]int `json:"reasons"`
	DecisionsDropped      int            `json:"decisions_dropped"`
	Device                hal.Stats      `json:"device"`
	Healthy               bool           `json:"healthy"`
	Issues                []string       `json:"issues,omitempty"`
	Warnings              []string       `json:"warnings,omitempty"`
}

func buildReport(e *olp.Engine, dev *hal.SimDevice, recovered int64, started time.Time, cfg fileConfig) runReport {
	stats := e.Stats()
	summary := trace.Summarize(e.DecisionLog())
	check := olp.CheckHealth(stats, cfg.Health)
	return runReport{
		Seed:                  cfg.Device.Seed,
		Scopes:                numScopes,
		IterationsPerScope:    iterations,
		WallTimeSeconds:       time.Since(started).Seconds(),
		Executions:            stats.Executions,
		PIMSelections:         stats.PIMSelections,
		CPUSelections:         stats.CPUSelections,
		PIMPercentage:         stats.PIMPercentage(),
		TaskFailures:          stats.TaskFailures,
		Rollbacks:             stats.Rollbacks,
		RecoveredFailures:     recovered,
		ProtocolViolations:    stats.ProtocolViolations,
		CheckpointsRegistered: stats.CheckpointsRegistered,
		MeanConfidence:        summary.MeanConfidence,
		Reasons:               summary.ReasonDistribution,
		DecisionsDropped:      e.DecisionLog().Dropped(),
		Device:                dev.Stats(),
		Healthy:               check.Healthy,
		Issues:                check.Issues,
		Warnings:              check.Warnings,
	}
}

// Print writes the report to w as a header followed by indented JSON.
func (r runReport) Print(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if _, err := fmt.Fprintf(w, "=== OLP Run Report ===\n%s\n", data); err != nil {
		return err
	}
	return nil
}
