package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/helpdesk-query/internal/app"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("HISTORY_BACKEND", "sqlite")
	t.Setenv("LOG_LEVEL", "error")
	for _, k := range []string{"ZENDESK_SUBDOMAIN", "ZENDESK_EMAIL", "ZENDESK_API_TOKEN", "INTERCOM_ACCESS_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestNewRoot_Commands(t *testing.T) {
	root := NewRoot("")
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ask", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--env-file", "")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)

	root := NewRoot("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version", "--env-file", ""})
	require.NoError(t, root.Execute())
	assert.Equal(t, "dev\n", buf.String())
}

func TestAsk_RequiresQuestion(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "ask", "--env-file", "")
	require.Error(t, err)
}

func TestAsk_NoStoresConfigured(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "ask", "--env-file", "", "how many tickets?")
	require.ErrorIs(t, err, app.ErrNoStores)
}

func TestAsk_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HISTORY_BACKEND", "s3")
	_, err := execute(t, "ask", "--env-file", "", "how many tickets?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTORY_BACKEND")
}

func TestLoadEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")
	require.NoError(t, loadEnvFile(missing, false), "missing default file is ignored")
	require.Error(t, loadEnvFile(missing, true), "missing explicit file fails")
	require.NoError(t, loadEnvFile("", true))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HELPDESKQ_CLI_TEST_MARKER=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("HELPDESKQ_CLI_TEST_MARKER") })
	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "loaded", os.Getenv("HELPDESKQ_CLI_TEST_MARKER"))
}

func TestAsk_ExplicitMissingEnvFile(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "ask", "--env-file", filepath.Join(t.TempDir(), "absent.env"), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.env")
}
