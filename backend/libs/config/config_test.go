package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	HTTP struct {
		Port string `yaml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http"`
	Commands struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"commands"`
	Origins []string `yaml:"origins" env:"SAMPLE_ORIGINS"`
	Debug   bool     `yaml:"debug"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"9000\"\ndebug: true\n"), 0o600))

	t.Setenv("SAMPLE_HTTP_PORT", "9100")
	t.Setenv("COMMANDS_TIMEOUT", "45s")
	t.Setenv("SAMPLE_ORIGINS", "a.example, b.example,")

	var cfg sampleConfig
	require.NoError(t, LoadConfig(path, &cfg))

	assert.Equal(t, "9100", cfg.HTTP.Port)
	assert.Equal(t, 45*time.Second, cfg.Commands.Timeout)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Origins)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigFallsBackToEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"7000\"\n"), 0o600))
	t.Setenv(ConfigPathEnv, path)

	var cfg sampleConfig
	require.NoError(t, LoadConfig("", &cfg))
	assert.Equal(t, "7000", cfg.HTTP.Port)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	assert.Error(t, LoadConfig("", nil))

	var notStruct int
	assert.Error(t, LoadConfig("", &notStruct))

	t.Setenv("COMMANDS_TIMEOUT", "soon")
	var cfg sampleConfig
	assert.Error(t, LoadConfig("", &cfg))
}
