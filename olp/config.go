package olp

import (
	"fmt"
	"math"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/olp-runtime/olp/olp/predict"
	"github.com/olp-runtime/olp/olp/trace"
)

// Defaults applied when a Config field is not set.
const (
	DefaultConfidenceThreshold = 0.8
	DefaultGainThreshold       = 0.0
	DefaultEscalatedConfidence = 0.99999
)

// Config holds the engine configuration, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML" and resolve to the defaults above.
type Config struct {
	Admission AdmissionConfig      `yaml:"admission"`
	Trace     TraceSettings        `yaml:"trace"`
	Recovery  RecoverySettings     `yaml:"recovery"`
	Scorer    predict.ScorerConfig `yaml:"scorer"`
}

// AdmissionConfig holds admission policy configuration.
type AdmissionConfig struct {
	Policy              string                    `yaml:"policy"`
	ConfidenceThreshold *float64                  `yaml:"confidence_threshold" validate:"omitempty,finite,gte=0,lte=1"`
	GainThreshold       *float64                  `yaml:"gain_threshold" validate:"omitempty,finite,gte=0"`
	Scopes              map[int64]ScopeThresholds `yaml:"scopes" validate:"omitempty,dive"`
}

// ScopeThresholds overrides the global thresholds for one scope.
// An unset field inherits the global value.
type ScopeThresholds struct {
	ConfidenceThreshold *float64 `yaml:"confidence_threshold" validate:"omitempty,finite,gte=0,lte=1"`
	GainThreshold       *float64 `yaml:"gain_threshold" validate:"omitempty,finite,gte=0"`
}

// TraceSettings holds access-window and decision-log configuration.
type TraceSettings struct {
	WindowCapacity int    `yaml:"window_capacity" validate:"gte=0"`
	Level          string `yaml:"level"`
	LogSize        int    `yaml:"log_size" validate:"gte=0"`
}

// RecoverySettings holds post-rollback configuration.
type RecoverySettings struct {
	EscalatedConfidence *float64 `yaml:"escalated_confidence" validate:"omitempty,finite,gte=0,lte=1"`
	EscalationWindow    int      `yaml:"escalation_window" validate:"gte=0"`
}

// configValidate is the validator instance for Config.
// Initialized in init() with custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("finite", validateFinite)
}

// validateFinite rejects NaN and ±Inf floats. Other kinds pass.
func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		v := f.Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

func float64Ptr(v float64) *float64 { return &v }

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	return Config{
		Admission: AdmissionConfig{
			Policy:              "trust-gain",
			ConfidenceThreshold: float64Ptr(DefaultConfidenceThreshold),
			GainThreshold:       float64Ptr(DefaultGainThreshold),
		},
		Trace: TraceSettings{
			WindowCapacity: trace.DefaultWindowCapacity,
			Level:          string(trace.TraceLevelDecisions),
			LogSize:        trace.DefaultLogSize,
		},
		Recovery: RecoverySettings{
			EscalatedConfidence: float64Ptr(DefaultEscalatedConfidence),
		},
		Scorer: predict.ScorerConfig{Name: "rule-based"},
	}
}

// LoadConfig reads and parses a YAML configuration file, then validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading olp config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing olp config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that all names and parameter ranges in the config are valid.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !IsValidAdmissionPolicy(c.Admission.Policy) {
		return fmt.Errorf("%w: unknown admission policy %q", ErrInvalidConfig, c.Admission.Policy)
	}
	for scope := range c.Admission.Scopes {
		if scope < 0 {
			return fmt.Errorf("%w: scope override for negative scope %d", ErrInvalidConfig, scope)
		}
	}
	if !trace.IsValidTraceLevel(c.Trace.Level) {
		return fmt.Errorf("%w: unknown trace level %q", ErrInvalidConfig, c.Trace.Level)
	}
	if !predict.IsValidModel(c.Scorer.Name) {
		return fmt.Errorf("%w: unknown scorer %q; valid scorers: %v", ErrInvalidConfig, c.Scorer.Name, predict.ValidModelNames())
	}
	s := c.Scorer
	for name, v := range map[string]float64{
		"fixed_confidence": s.FixedConfidence,
		"fixed_gain":       s.FixedGain,
		"failure_penalty":  s.FailurePenalty,
		"learning_rate":    s.LearningRate,
		"base_gain":        s.BaseGain,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: scorer %s must be finite, got %f", ErrInvalidConfig, name, v)
		}
	}
	if s.FixedConfidence < 0 || s.FixedConfidence > 1 {
		return fmt.Errorf("%w: scorer fixed_confidence must be in [0,1], got %f", ErrInvalidConfig, s.FixedConfidence)
	}
	if s.FailurePenalty < 0 || s.FailurePenalty >= 1 {
		return fmt.Errorf("%w: scorer failure_penalty must be in [0,1), got %f", ErrInvalidConfig, s.FailurePenalty)
	}
	if s.MinHistory < 0 || s.LearningRate < 0 || s.BaseGain < 0 {
		return fmt.Errorf("%w: scorer min_history, learning_rate and base_gain must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Thresholds resolves the global admission thresholds.
func (c Config) Thresholds() Thresholds {
	t := Thresholds{Confidence: DefaultConfidenceThreshold, Gain: DefaultGainThreshold}
	if c.Admission.ConfidenceThreshold != nil {
		t.Confidence = *c.Admission.ConfidenceThreshold
	}
	if c.Admission.GainThreshold != nil {
		t.Gain = *c.Admission.GainThreshold
	}
	return t
}

// ScopeOverrides resolves per-scope thresholds; unset fields inherit the global value.
func (c Config) ScopeOverrides() map[int64]Thresholds {
	global := c.Thresholds()
	out := make(map[int64]Thresholds, len(c.Admission.Scopes))
	for scope, st := range c.Admission.Scopes {
		t := global
		if st.ConfidenceThreshold != nil {
			t.Confidence = *st.ConfidenceThreshold
		}
		if st.GainThreshold != nil {
			t.Gain = *st.GainThreshold
		}
		out[scope] = t
	}
	return out
}

// RecoveryConfig resolves the recovery settings.
func (c Config) RecoveryConfig() RecoveryConfig {
	rc := RecoveryConfig{
		EscalatedConfidence: DefaultEscalatedConfidence,
		EscalationWindow:    c.Recovery.EscalationWindow,
	}
	if c.Recovery.EscalatedConfidence != nil {
		rc.EscalatedConfidence = *c.Recovery.EscalatedConfidence
	}
	return rc
}

// TraceConfig resolves the decision-log settings.
func (c Config) TraceConfig() trace.TraceConfig {
	return trace.TraceConfig{Level: trace.TraceLevel(c.Trace.Level), MaxSize: c.Trace.LogSize}
}
