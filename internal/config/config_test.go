package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	cfg, err := LoadEmbedded()
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, "260", cfg.PhoneCountryCode)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 1000, cfg.Rebuild.FlushSize)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "zero batch size",
			yaml:    "batch_size: 0\nstore:\n  backend: memory\n",
			wantErr: "batch_size",
		},
		{
			name:    "unknown backend",
			yaml:    "batch_size: 100\nstore:\n  backend: dynamo\n",
			wantErr: "unknown store backend",
		},
		{
			name:    "sqlite without path",
			yaml:    "batch_size: 100\nstore:\n  backend: sqlite\n",
			wantErr: "sqlite_path",
		},
		{
			name:    "firestore without project",
			yaml:    "batch_size: 100\nstore:\n  backend: firestore\n",
			wantErr: "firestore_project",
		},
		{
			name:    "malformed yaml",
			yaml:    "batch_size: [nope\n",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "batch_size: 50\nstore:\n  backend: sqlite\n  sqlite_path: /tmp/test.db\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/test.db", cfg.Store.SQLitePath)
	// Untouched fields keep embedded defaults.
	assert.Equal(t, "260", cfg.PhoneCountryCode)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}
