package minecraft

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	mgr := newTestManager(t)

	s := mgr.GetSettings()
	assert.Equal(t, "java", s.JavaPath)
	assert.Equal(t, "server.jar", s.JarFile)
	assert.Equal(t, "2G", s.MaxRAM)
	assert.Equal(t, "none", s.Flags)
	assert.Equal(t, 10, s.StopTimeoutSeconds)
	assert.False(t, mgr.AuthEnabled())
	assert.NoFileExists(t, filepath.Join(mgr.Dir(), ".mcpanel", "settings.json"))
}

func TestSettingsLogin(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.UpdateAppSettings(SettingsUpdate{LoginUser: "admin"})
	assert.ErrorContains(t, err, "password is required")
	assert.False(t, mgr.AuthEnabled())

	out, err := mgr.UpdateAppSettings(SettingsUpdate{LoginUser: "admin", LoginPassword: "hunter2"})
	require.NoError(t, err)
	assert.Empty(t, out.LoginPasswordHash)
	assert.True(t, mgr.AuthEnabled())
	assert.True(t, mgr.ValidateLogin("admin", "hunter2"))
	assert.False(t, mgr.ValidateLogin("admin", "wrong"))
	assert.False(t, mgr.ValidateLogin("root", "hunter2"))

	// an empty password keeps the stored hash
	_, err = mgr.UpdateAppSettings(SettingsUpdate{LoginUser: "admin", MaxRAM: "4G"})
	require.NoError(t, err)
	assert.True(t, mgr.ValidateLogin("admin", "hunter2"))

	_, err = mgr.UpdateAppSettings(SettingsUpdate{})
	require.NoError(t, err)
	assert.False(t, mgr.AuthEnabled())
	assert.False(t, mgr.ValidateLogin("admin", "hunter2"))
}

func TestSettingsValidation(t *testing.T) {
	mgr := newTestManager(t)

	cases := map[string]SettingsUpdate{
		"max ram":      {MaxRAM: "lots"},
		"min ram":      {MinRAM: "1T"},
		"flags":        {Flags: "zgc"},
		"stop timeout": {StopTimeoutSeconds: 301},
		"jar path":     {JarFile: "../server.jar"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := mgr.UpdateAppSettings(req)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, "2G", mgr.GetSettings().MaxRAM)
}

func TestSettingsPersisted(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.UpdateAppSettings(SettingsUpdate{
		MaxRAM:             "4096M",
		MinRAM:             "1G",
		Flags:              "Aikars",
		StopTimeoutSeconds: 30,
		LoginUser:          "admin",
		LoginPassword:      "hunter2",
	})
	require.NoError(t, err)

	path := filepath.Join(mgr.Dir(), ".mcpanel", "settings.json")
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), st.Mode().Perm())

	var onDisk AppSettings
	require.NoError(t, json.Unmarshal([]byte(readTestFile(t, path)), &onDisk))
	assert.Equal(t, "4096M", onDisk.MaxRAM)
	assert.Equal(t, "aikars", onDisk.Flags)
	assert.NotEmpty(t, onDisk.LoginPasswordHash)
	assert.NotContains(t, readTestFile(t, path), "hunter2")

	reopened, err := NewManager(mgr.Dir(), ManagerOptions{NoWatch: true})
	require.NoError(t, err)
	assert.Equal(t, 30, reopened.GetSettings().StopTimeoutSeconds)
	assert.True(t, reopened.ValidateLogin("admin", "hunter2"))
}
