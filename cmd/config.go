package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/olp-runtime/olp/olp"
	"github.com/olp-runtime/olp/olp/hal"
)

var configOut string

// Fault injection defaults for the simulated device.
const (
	defaultSeed              = 42
	defaultMispredictRate    = 0.02
	defaultHardwareFaultRate = 0.005
)

// fileConfig is the YAML layout read by `olp run --config` and printed by `olp config`.
type fileConfig struct {
	Engine olp.Config       `yaml:"engine"`
	Device hal.Config       `yaml:"device"`
	Health olp.HealthConfig `yaml:"health"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Engine: olp.DefaultConfig(),
		Device: hal.Config{
			Seed:              defaultSeed,
			MispredictRate:    defaultMispredictRate,
			HardwareFaultRate: defaultHardwareFaultRate,
		},
		Health: olp.DefaultHealthConfig(),
	}
}

// loadFileConfig reads path with strict field checking, so typos are errors.
// Sections missing from the file keep their defaults.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Device.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func writeConfig(w io.Writer, cfg fileConfig) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return encoder.Close()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		w := io.Writer(os.Stdout)
		if configOut != "" {
			f, err := os.Create(configOut)
			if err != nil {
				logrus.Fatalf("Failed to create %s: %v", configOut, err)
			}
			defer f.Close()
			w = f
		}
		if err := writeConfig(w, defaultFileConfig()); err != nil {
			logrus.Fatalf("Failed to write config: %v", err)
		}
	},
}

func init() {
	configCmd.Flags().StringVar(&configOut, "out", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(configCmd)
}
