package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "plugin.json")
	require.NoError(t, os.WriteFile(fp, []byte(contents), 0o600))
	return fp
}

func TestLoad_Valid(t *testing.T) {
	fp := writeTempConfig(t, `{
		"server_url": "https://localhost:21174",
		"client_id": "abc",
		"client_secret": "shhh",
		"server_cert": "/etc/qiita/server.crt"
	}`)

	cfg, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:21174", cfg.ServerURL)
	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "shhh", cfg.ClientSecret)
	assert.Equal(t, "/etc/qiita/server.crt", cfg.ServerCert)
}

func TestLoad_RejectsNonJSONExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fp := filepath.Join(dir, "plugin.conf")
	require.NoError(t, os.WriteFile(fp, []byte("{}"), 0o600))

	_, err := Load(fp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoad_MissingFields(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		want     string
	}{
		{"no server", `{"client_id": "a", "client_secret": "b"}`, "server_url"},
		{"no client id", `{"server_url": "https://x", "client_secret": "b"}`, "client_id"},
		{"no secret", `{"server_url": "https://x", "client_id": "a"}`, "client_secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := writeTempConfig(t, tc.contents)
			_, err := Load(fp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_ServerCertEnvOverride(t *testing.T) {
	fp := writeTempConfig(t, `{
		"server_url": "https://localhost:21174",
		"client_id": "abc",
		"client_secret": "shhh",
		"server_cert": "/from/file.crt"
	}`)
	t.Setenv(EnvServerCert, "/from/env.crt")

	cfg, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.crt", cfg.ServerCert)
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "/srv/qiita/plugin.json")
	fp, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/qiita/plugin.json", fp)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		ServerURL:    "https://localhost:21174",
		ClientID:     "abc",
		ClientSecret: "shhh",
	}
	fp := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, cfg.Write(fp))

	info, err := os.Stat(fp)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, got.ServerURL)
	assert.Equal(t, cfg.ClientID, got.ClientID)
}

func TestWrite_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := &Config{ServerURL: "https://x"}
	err := cfg.Write(filepath.Join(t.TempDir(), "out.json"))
	assert.Error(t, err)
}
