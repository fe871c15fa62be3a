package install

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/agentcli/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) run(_ context.Context, dir, name string, args ...string) (string, string, error) {
	r.calls = append(r.calls, append([]string{dir, name}, args...))
	if r.err != nil {
		return "", "boom on stderr", r.err
	}
	return "installed", "", nil
}

func readDeps(t *testing.T, dir string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m.Dependencies
}

func TestInstallRunsBunAndRecordsVersion(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	i := &Installer{CacheDir: dir, Bun: "bun", Run: rec.run}

	path, err := i.Install(context.Background(), "left-pad", "1.3.0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "node_modules", "left-pad"), path)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{dir, "bun", "add", "--force", "--exact", "--cwd", dir, "left-pad@1.3.0"}, rec.calls[0])
	assert.Equal(t, map[string]string{"left-pad": "1.3.0"}, readDeps(t, dir))

	// Already installed at that version.
	_, err = i.Install(context.Background(), "left-pad", "1.3.0")
	require.NoError(t, err)
	assert.Len(t, rec.calls, 1)
}

func TestInstallDryRunSkipsBun(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	i := &Installer{CacheDir: dir, Flags: config.Flags{DryRun: true}, Run: rec.run}

	path, err := i.Install(context.Background(), "left-pad", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "node_modules", "left-pad"), path)
	assert.Empty(t, rec.calls)
	assert.Empty(t, readDeps(t, dir))
}

func TestInstallFailure(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{err: fmt.Errorf("exit status 1")}
	i := &Installer{CacheDir: dir, Run: rec.run}

	_, err := i.Install(context.Background(), "nope", "9.9.9")
	require.Error(t, err)
	var failed *InstallFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "nope", failed.Pkg)
	assert.Equal(t, "9.9.9", failed.Version)
	assert.Contains(t, failed.Details, "boom on stderr")
	assert.Empty(t, readDeps(t, dir))
}

func TestInstallRepairsCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{oops"), 0o644))
	i := &Installer{CacheDir: dir, Run: (&recorder{}).run}

	_, err := i.Install(context.Background(), "a", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1.0.0"}, readDeps(t, dir))
}

func TestNewUsesConfiguredCacheDir(t *testing.T) {
	cfg := config.Default()
	cfg.Install.CacheDir = "/tmp/agentcli-cache"
	cfg.Flags.DryRun = true
	i, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agentcli-cache", i.CacheDir)
	assert.True(t, i.Flags.DryRun)

	t.Setenv("XDG_CACHE_HOME", "/xdg")
	dir, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/agentcli", dir)
}
