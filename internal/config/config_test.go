package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "google-key")
	path := writeConfig(t, "config.json", `{"db_path": "./data/pdfqa.db"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, 8000, cfg.Port)
	require.Equal(t, 1000, cfg.ChunkSize)
	require.Equal(t, 200, cfg.ChunkOverlap)
	require.Equal(t, 5, cfg.TopK)
	require.Equal(t, "badger", cfg.VectorStore.Type)
	require.Equal(t, DefaultVectorStoreDir, cfg.VectorStore.Data["dir"])
	require.Equal(t, "gemini", cfg.Embedding.Provider)
	require.Equal(t, DefaultEmbedModel, cfg.Embedding.Model)
	require.Equal(t, "google-key", cfg.Embedding.Data["api_key"])
	require.Len(t, cfg.Generation.Items, 1)
	require.Equal(t, DefaultGenerateModel, cfg.Generation.Items[0].Model)
	require.Equal(t, "google-key", cfg.Generation.Items[0].Data["api_key"])
	require.Equal(t, "local", cfg.FileStore.Type)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
db_path: ./pdfqa.db
port: 9000
top_k: 3
vector_store:
  type: postgres
  data:
    dsn: postgres://localhost/pdfqa
embedding:
  provider: openai
  model: text-embedding-3-small
  data:
    api_key: explicit
generation:
  items:
    - provider: openrouter
      model: meta-llama/llama-3-8b-instruct
`)
	t.Setenv("OPENAI_API_KEY", "ignored")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 3, cfg.TopK)
	require.Equal(t, "postgres", cfg.VectorStore.Type)
	require.NotContains(t, cfg.VectorStore.Data, "dir")
	require.Equal(t, "explicit", cfg.Embedding.Data["api_key"])
	require.Equal(t, "openrouter/meta-llama/llama-3-8b-instruct", cfg.Generation.Items[0].Name)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PDFQA_TEST_OPENAI_KEY=from-env-file\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"db_path": "x.db",
		"env_file": ".env",
		"embedding": {"provider": "local", "model": "hash"}
	}`), 0o644))
	t.Setenv("PDFQA_TEST_OPENAI_KEY", "")
	require.NoError(t, os.Unsetenv("PDFQA_TEST_OPENAI_KEY"))

	_, err := Load(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	require.Equal(t, "from-env-file", os.Getenv("PDFQA_TEST_OPENAI_KEY"))
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing db path", content: `{}`},
		{name: "bad json", content: `{`},
		{name: "bad file store", content: `{"db_path": "x.db", "file_store": {"type": "ftp"}}`},
		{name: "generator without model", content: `{"db_path": "x.db", "generation": {"items": [{"provider": "gemini"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", tt.content))
			require.Error(t, err)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
