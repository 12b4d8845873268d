package minecraft

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpanel/logging"
)

func TestInstallerStatus(t *testing.T) {
	dir := t.TempDir()
	inst := NewInstaller(dir, dir, logging.Nop())

	st := inst.Status("server.jar")
	assert.False(t, st.Installed)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "world"), 0755))
	st = inst.Status("server.jar")
	assert.True(t, st.Installed)
	assert.True(t, st.HasWorld)
	assert.False(t, st.HasJar)

	require.NoError(t, os.Remove(filepath.Join(dir, "world")))
	writeTestFile(t, filepath.Join(dir, "server.jar"), "jar")
	st = inst.Status("server.jar")
	assert.True(t, st.Installed)
	assert.True(t, st.HasJar)
}

func TestBundledVersionsNewestFirst(t *testing.T) {
	bundle := t.TempDir()
	for _, v := range []string{"1.20.4", "1.21.10", "1.21.5", "1.8.9", "snapshot-x"} {
		writeTestFile(t, filepath.Join(bundle, "server_options", v, "server.jar"), v)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "server_options", "1.99.0"), 0755))

	inst := NewInstaller(t.TempDir(), bundle, logging.Nop())
	versions, err := inst.BundledVersions()
	require.NoError(t, err)

	var names []string
	for _, v := range versions {
		names = append(names, v.Version)
	}
	assert.Equal(t, []string{"1.21.10", "1.21.5", "1.20.4", "1.8.9", "snapshot-x"}, names)
	assert.True(t, versions[0].Latest)
	assert.False(t, versions[1].Latest)
}

func TestBundledVersionsMissingDir(t *testing.T) {
	inst := NewInstaller(t.TempDir(), t.TempDir(), logging.Nop())
	versions, err := inst.BundledVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestInstallBundled(t *testing.T) {
	bundle := t.TempDir()
	serverDir := filepath.Join(t.TempDir(), "server")
	writeTestFile(t, filepath.Join(bundle, "server_options", "1.21.1", "server.jar"), "vanilla 1.21.1")

	inst := NewInstaller(serverDir, bundle, logging.Nop())
	require.NoError(t, inst.InstallBundled("1.21.1", "server.jar"))
	assert.Equal(t, "vanilla 1.21.1", readTestFile(t, filepath.Join(serverDir, "server.jar")))

	assert.ErrorIs(t, inst.InstallBundled("1.0.0", "server.jar"), ErrVersionUnavailable)
	assert.ErrorIs(t, inst.InstallBundled("../../etc", "server.jar"), ErrVersionUnavailable)
	assert.Error(t, inst.InstallBundled("1.21.1", "../server.jar"))
}

func newMojangServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
  "latest": {"release": "1.21.1", "snapshot": "24w33a"},
  "versions": [
    {"id": "24w33a", "type": "snapshot", "url": "%[1]s/meta/24w33a.json"},
    {"id": "1.21.1", "type": "release", "url": "%[1]s/meta/1.21.1.json"},
    {"id": "1.21", "type": "release", "url": "%[1]s/meta/1.21.json"}
  ]
}`, srv.URL)
	})
	mux.HandleFunc("/meta/1.21.1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"downloads": {"server": {"url": "%s/jars/1.21.1.jar"}}}`, srv.URL)
	})
	mux.HandleFunc("/meta/1.21.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"downloads": {}}`))
	})
	mux.HandleFunc("/jars/1.21.1.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jar bytes 1.21.1"))
	})
	return srv
}

func TestVanillaVersions(t *testing.T) {
	srv := newMojangServer(t)
	inst := NewInstaller(t.TempDir(), t.TempDir(), logging.Nop())
	inst.manifestURL = srv.URL + "/manifest.json"

	versions, err := inst.VanillaVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []VersionInfo{
		{Version: "1.21.1", Latest: true, Source: "vanilla"},
		{Version: "1.21", Latest: false, Source: "vanilla"},
	}, versions)
}

func TestInstallVanilla(t *testing.T) {
	srv := newMojangServer(t)
	serverDir := t.TempDir()
	inst := NewInstaller(serverDir, t.TempDir(), logging.Nop())
	inst.manifestURL = srv.URL + "/manifest.json"

	version, err := inst.InstallVanilla(context.Background(), "latest", "server.jar")
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", version)
	assert.Equal(t, "jar bytes 1.21.1", readTestFile(t, filepath.Join(serverDir, "server.jar")))

	_, err = inst.InstallVanilla(context.Background(), "1.21", "server.jar")
	assert.ErrorIs(t, err, ErrVersionUnavailable)

	_, err = inst.InstallVanilla(context.Background(), "0.0.1", "server.jar")
	assert.ErrorIs(t, err, ErrVersionUnavailable)
}

func TestAcceptEULA(t *testing.T) {
	dir := t.TempDir()
	inst := NewInstaller(dir, dir, logging.Nop())
	require.NoError(t, inst.AcceptEULA())
	assert.Equal(t, "eula=true\n", readTestFile(t, filepath.Join(dir, "eula.txt")))
}
