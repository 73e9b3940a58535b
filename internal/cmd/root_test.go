package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resync.toml")
	content := `
[store]
backend = "sqlite"
path = "` + filepath.ToSlash(filepath.Join(dir, "resync.db")) + `"

[logging]
level = "error"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueueCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "queue", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No pending requests")

	out, err = execute(t, "queue", "add", "post", "/v1/likes", `{"postId":"p1"}`, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued POST /v1/likes (1 pending)")

	out, err = execute(t, "queue", "add", "DELETE", "/v1/posts/42", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "(2 pending)")

	out, err = execute(t, "queue", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "METHOD")
	assert.Contains(t, out, "/v1/likes")
	assert.Contains(t, out, "0/3")
	assert.Less(t, bytes.Index([]byte(out), []byte("/v1/likes")), bytes.Index([]byte(out), []byte("/v1/posts/42")))

	out, err = execute(t, "queue", "clear", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 2 pending requests")

	out, err = execute(t, "queue", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No pending requests")
}

func TestQueueAddRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "queue", "add", "PUT", "/v1/likes", "--config", cfg)
	assert.Error(t, err)

	_, err = execute(t, "queue", "add", "POST", "/v1/likes", `{"postId":`, "--config", cfg)
	assert.Error(t, err)

	_, err = execute(t, "queue", "add", "POST", "--config", cfg)
	assert.Error(t, err)

	out, err := execute(t, "queue", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No pending requests")
}

func TestTokenCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "token", "set", "abc", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Credential stored")

	out, err = execute(t, "token", "clear", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Credential removed")

	_, err = execute(t, "token", "clear", "--config", cfg)
	assert.NoError(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "queue", "list", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
