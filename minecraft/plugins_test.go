package minecraft

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestPluginListReadsDescriptors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	writeJar(t, filepath.Join(dir, "essentials.jar"), map[string]string{
		"plugin.yml": "name: Essentials\nversion: 2.20.1\ndescription: Core commands\nmain: com.earth2me.Essentials\n",
	})
	writeJar(t, filepath.Join(dir, "sodium.jar"), map[string]string{
		"fabric.mod.json": `{"schemaVersion":1,"id":"sodium","name":"Sodium","version":"0.5.8"}`,
	})
	writeJar(t, filepath.Join(dir, "jei.jar.disabled"), map[string]string{
		"META-INF/mods.toml": "modLoader=\"javafml\"\n[[mods]]\nmodId=\"jei\"\nversion=\"15.3.0\"\ndisplayName=\"Just Enough Items\"\n[[dependencies.jei]]\nversionRange=\"[1.20,)\"\n",
	})
	writeJar(t, filepath.Join(dir, "bare.jar"), map[string]string{"a.class": "x"})
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeTestFile(t, filepath.Join(dir, "corrupt.jar"), "not a zip")

	plugins, err := NewPluginDir(dir).List()
	require.NoError(t, err)
	require.Len(t, plugins, 5)

	byFile := map[string]PluginInfo{}
	for _, p := range plugins {
		byFile[p.FileName] = p
	}

	ess := byFile["essentials.jar"]
	assert.Equal(t, "Essentials", ess.Name)
	assert.Equal(t, "2.20.1", ess.Version)
	assert.Equal(t, "Core commands", ess.Description)
	assert.True(t, ess.Enabled)

	sodium := byFile["sodium.jar"]
	assert.Equal(t, "Sodium", sodium.Name)
	assert.Equal(t, "0.5.8", sodium.Version)
	assert.Equal(t, "No description", sodium.Description)
	assert.Equal(t, "fabric", sodium.Loader)

	jei := byFile["jei.jar.disabled"]
	assert.Equal(t, "Just Enough Items", jei.Name)
	assert.Equal(t, "15.3.0", jei.Version)
	assert.False(t, jei.Enabled)

	bare := byFile["bare.jar"]
	assert.Equal(t, "bare.jar", bare.Name)
	assert.Equal(t, "Unknown", bare.Version)
	assert.Equal(t, "No plugin descriptor found", bare.Description)

	assert.Equal(t, "No plugin descriptor found", byFile["corrupt.jar"].Description)

	// sorted by display name, case-insensitive
	assert.Equal(t, "bare.jar", plugins[0].Name)
	assert.Equal(t, "corrupt.jar", plugins[1].Name)
	assert.Equal(t, "Essentials", plugins[2].Name)
}

func TestPluginListCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	plugins, err := NewPluginDir(dir).List()
	require.NoError(t, err)
	assert.Empty(t, plugins)
	assert.DirExists(t, dir)
}

func TestPluginInstallPreservesModeAndTime(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "downloads", "worldedit.jar")
	writeJar(t, src, map[string]string{"plugin.yml": "name: WorldEdit\nversion: 7.3.0\n"})
	require.NoError(t, os.Chmod(src, 0600))
	mtime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	pd := NewPluginDir(filepath.Join(tmp, "plugins"))
	info, err := pd.Install(src)
	require.NoError(t, err)
	assert.Equal(t, "WorldEdit", info.Name)

	st, err := os.Stat(filepath.Join(pd.Path(), "worldedit.jar"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), st.Mode().Perm())
	assert.True(t, st.ModTime().Equal(mtime))

	_, err = os.Stat(filepath.Join(pd.Path(), "worldedit.jar.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestPluginInstallRejectsNonJar(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "readme.txt")
	writeTestFile(t, src, "hello")

	_, err := NewPluginDir(filepath.Join(tmp, "plugins")).Install(src)
	assert.ErrorIs(t, err, ErrInvalidPluginFile)
}

func TestPluginUploadToggleDelete(t *testing.T) {
	pd := NewPluginDir(filepath.Join(t.TempDir(), "plugins"))

	_, err := pd.Upload("../evil.jar", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(pd.Path(), "evil.jar"))

	_, err = pd.Upload("script.sh", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrInvalidPluginFile)

	info, err := pd.Toggle("evil.jar")
	require.NoError(t, err)
	assert.Equal(t, "evil.jar.disabled", info.FileName)
	assert.False(t, info.Enabled)

	info, err = pd.Toggle("evil.jar.disabled")
	require.NoError(t, err)
	assert.Equal(t, "evil.jar", info.FileName)
	assert.True(t, info.Enabled)

	_, err = pd.Toggle("missing.jar")
	assert.ErrorIs(t, err, ErrPluginNotFound)

	_, err = pd.Toggle("../server.jar")
	assert.Error(t, err)

	require.NoError(t, pd.Delete("evil.jar"))
	assert.ErrorIs(t, pd.Delete("evil.jar"), ErrPluginNotFound)
}

func TestPluginToggleKeepsBothCopies(t *testing.T) {
	pd := NewPluginDir(filepath.Join(t.TempDir(), "plugins"))
	_, err := pd.Upload("Essentials.jar", bytes.NewReader([]byte("enabled")))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pd.Path(), "Essentials.jar.disabled"), []byte("disabled"), 0644))

	_, err = pd.Toggle("Essentials.jar")
	assert.ErrorIs(t, err, ErrPluginExists)
	_, err = pd.Toggle("Essentials.jar.disabled")
	assert.ErrorIs(t, err, ErrPluginExists)

	data, err := os.ReadFile(filepath.Join(pd.Path(), "Essentials.jar"))
	require.NoError(t, err)
	assert.Equal(t, "enabled", string(data))
	data, err = os.ReadFile(filepath.Join(pd.Path(), "Essentials.jar.disabled"))
	require.NoError(t, err)
	assert.Equal(t, "disabled", string(data))
}

func TestPluginToggleUppercaseSuffix(t *testing.T) {
	pd := NewPluginDir(filepath.Join(t.TempDir(), "plugins"))
	require.NoError(t, os.MkdirAll(pd.Path(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pd.Path(), "World.JAR.DISABLED"), []byte("x"), 0644))

	info, err := pd.Toggle("World.JAR.DISABLED")
	require.NoError(t, err)
	assert.Equal(t, "World.JAR", info.FileName)
	assert.True(t, info.Enabled)
	assert.NoFileExists(t, filepath.Join(pd.Path(), "World.JAR.DISABLED.disabled"))
}

func TestSafePath(t *testing.T) {
	base := t.TempDir()

	p, err := SafePath(base, "plugins/a.jar")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "plugins", "a.jar"), p)

	_, err = SafePath(base, "../outside")
	assert.Error(t, err)

	_, err = SafePath(base, "../"+filepath.Base(base)+"-sibling/x")
	assert.Error(t, err)
}
