package olp

import "fmt"

// HealthConfig holds the thresholds CheckHealth compares engine stats against.
type HealthConfig struct {
	MaxRollbacks     int64   `yaml:"max_rollbacks"`      // rollbacks above this are an issue; <=0 disables
	MinPIMPercentage float64 `yaml:"min_pim_percentage"` // a lower PIM share is a warning; <=0 disables
}

// DefaultHealthConfig returns the monitoring defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{MaxRollbacks: 10, MinPIMPercentage: 80}
}

// HealthReport is the result of CheckHealth.
type HealthReport struct {
	Healthy  bool
	Issues   []string
	Warnings []string
}

// CheckHealth evaluates stats against cfg. Issues make the report unhealthy;
// warnings do not.
func CheckHealth(stats Stats, cfg HealthConfig) HealthReport {
	r := HealthReport{Healthy: true}
	if cfg.MaxRollbacks > 0 && stats.Rollbacks > cfg.MaxRollbacks {
		r.Issues = append(r.Issues, fmt.Sprintf("high rollback count: %d (max %d)", stats.Rollbacks, cfg.MaxRollbacks))
	}
	if stats.ProtocolViolations > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d interrupts matched no dispatch in flight", stats.ProtocolViolations))
	}
	if cfg.MinPIMPercentage > 0 && stats.Executions > 0 && stats.PIMPercentage() < cfg.MinPIMPercentage {
		r.Warnings = append(r.Warnings, fmt.Sprintf("low PIM utilization: %.1f%% (min %.1f%%)", stats.PIMPercentage(), cfg.MinPIMPercentage))
	}
	r.Healthy = len(r.Issues) == 0
	return r
}
