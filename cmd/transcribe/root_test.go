package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveConfig 通过 config 子命令把合并后的配置写到文件再读回
func saveConfig(t *testing.T, args ...string) (*models.Config, error) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "merged.json")

	root := newRootCmd()
	root.SetArgs(append(args, "config", out))
	if err := root.Execute(); err != nil {
		return nil, err
	}

	cfg := models.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromFile(out))
	return cfg, nil
}

func TestBuildConfigDefaults(t *testing.T) {
	cfg, err := saveConfig(t)
	require.NoError(t, err)
	assert.Equal(t, models.NewDefaultConfig(), cfg)
}

func TestBuildConfigFlagsOverride(t *testing.T) {
	cfg, err := saveConfig(t,
		"--workers", "7",
		"--chunk-seconds", "300",
		"--model", "whisper-large",
		"--fallback-model", "none",
		"--language", "es",
		"--service", "auto",
		"--strategy", "round_robin",
		"--srt",
		"--no-json",
		"--no-progress",
	)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxWorkers)
	assert.Equal(t, 300, cfg.ChunkSeconds)
	assert.Equal(t, "whisper-large", cfg.PrimaryModel)
	assert.Empty(t, cfg.FallbackModel)
	assert.Equal(t, "es", cfg.Language)
	assert.Equal(t, "auto", cfg.ASRService)
	assert.Equal(t, "round_robin", cfg.ASRStrategy)
	assert.True(t, cfg.ExportSRT)
	assert.False(t, cfg.ExportJSON)
	assert.False(t, cfg.ShowProgress)
}

func TestBuildConfigFileThenFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.json")
	base := models.NewDefaultConfig()
	base.MaxWorkers = 2
	base.Language = "en"
	require.NoError(t, base.SaveToFile(file))

	cfg, err := saveConfig(t, "--config", file, "--language", "fr")
	require.NoError(t, err)

	// 未指定的参数保留配置文件中的值
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, "fr", cfg.Language)
}

func TestBuildConfigRejectsInvalid(t *testing.T) {
	_, err := saveConfig(t, "--workers", "0")
	var verr *models.ConfigValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = saveConfig(t, "--strategy", "random")
	assert.ErrorAs(t, err, &verr)

	_, err = saveConfig(t, "--config", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TRANSCRIBE_TEST_KEY=from-file\nTRANSCRIBE_TEST_KEEP=from-file\n"), 0644))

	t.Setenv("TRANSCRIBE_TEST_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("TRANSCRIBE_TEST_KEY") })

	loadEnvFile(envFile)
	assert.Equal(t, "from-file", os.Getenv("TRANSCRIBE_TEST_KEY"))
	assert.Equal(t, "from-env", os.Getenv("TRANSCRIBE_TEST_KEEP"))

	// 不存在的文件忽略
	loadEnvFile(filepath.Join(dir, "missing.env"))
}
