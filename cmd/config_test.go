package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfig_RoundTrips(t *testing.T) {
	// GIVEN the default config written as YAML
	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, defaultFileConfig()))
	path := filepath.Join(t.TempDir(), "olp.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// WHEN it is loaded with strict parsing
	cfg, err := loadFileConfig(path)

	// THEN it matches the defaults
	require.NoError(t, err)
	def := defaultFileConfig()
	assert.Equal(t, def.Engine.Thresholds(), cfg.Engine.Thresholds())
	assert.Equal(t, def.Device, cfg.Device)
	assert.Equal(t, def.Health, cfg.Health)
}

func TestLoadFileConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "olp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  mispredict_rate: 0.5\n"), 0o644))

	cfg, err := loadFileConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Device.MispredictRate)
	assert.Equal(t, defaultFileConfig().Engine.Thresholds(), cfg.Engine.Thresholds())
}

func TestLoadFileConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown field":     "engine:\n  admision: {}\n",
		"invalid threshold": "engine:\n  admission:\n    confidence_threshold: 2\n",
		"invalid rate":      "device:\n  mispredict_rate: 0.9\n  hardware_fault_rate: 0.9\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := loadFileConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := loadFileConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
