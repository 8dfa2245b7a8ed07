package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults, cfg)
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fieldstore.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
db_path: /from/file
grpc_port: 6000
log:
  level: debug
`), 0o644))

	t.Setenv("FIELDSTORE_GRPC_PORT", "7000")
	t.Setenv("FIELDSTORE_LOG_PRETTY", "true")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--db", "/from/flag"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag", cfg.DBPath, "flags beat the file")
	assert.Equal(t, 7000, cfg.GRPCPort, "env beats the file")
	assert.Equal(t, "debug", cfg.Log.Level, "file beats defaults")
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, Defaults.MetricsPort, cfg.MetricsPort, "unset flags do not override")
}

func TestInvalid(t *testing.T) {
	t.Setenv("FIELDSTORE_LOG_LEVEL", "loud")
	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
