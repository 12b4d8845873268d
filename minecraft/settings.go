package minecraft

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AppSettings is the panel's own configuration, persisted as JSON
type AppSettings struct {
	JavaPath           string `json:"javaPath"`
	JarFile            string `json:"jarFile"`
	MaxRAM             string `json:"maxRam"`
	MinRAM             string `json:"minRam,omitempty"`
	Flags              string `json:"flags"`
	AlwaysPreTouch     bool   `json:"alwaysPreTouch,omitempty"`
	ExtraJVMArgs       string `json:"extraJvmArgs,omitempty"`
	StopTimeoutSeconds int    `json:"stopTimeoutSeconds"`
	UserAgent          string `json:"userAgent"`
	LoginUser          string `json:"loginUser,omitempty"`
	LoginPasswordHash  string `json:"loginPasswordHash,omitempty"`
}

// SettingsUpdate carries the editable settings. An empty LoginPassword keeps
// the current password.
type SettingsUpdate struct {
	JavaPath           string `json:"javaPath"`
	JarFile            string `json:"jarFile"`
	MaxRAM             string `json:"maxRam"`
	MinRAM             string `json:"minRam"`
	Flags              string `json:"flags"`
	AlwaysPreTouch     bool   `json:"alwaysPreTouch"`
	ExtraJVMArgs       string `json:"extraJvmArgs"`
	StopTimeoutSeconds int    `json:"stopTimeoutSeconds"`
	UserAgent          string `json:"userAgent"`
	LoginUser          string `json:"loginUser"`
	LoginPassword      string `json:"loginPassword"`
}

const (
	defaultJavaPath    = "java"
	defaultJarFile     = "server.jar"
	defaultRAM         = "2G"
	minStopTimeoutSecs = 1
	maxStopTimeoutSecs = 300
)

var ramPattern = regexp.MustCompile(`^[0-9]+[KkMmGg]?$`)

var (
	userAgentMu       sync.RWMutex
	userAgentOverride string
)

func defaultUserAgent() string {
	return "mcpanel/1.0"
}

func setUserAgentOverride(ua string) {
	userAgentMu.Lock()
	userAgentOverride = strings.TrimSpace(ua)
	userAgentMu.Unlock()
}

func getUserAgentOverride() string {
	userAgentMu.RLock()
	defer userAgentMu.RUnlock()
	return userAgentOverride
}

func effectiveUserAgent() string {
	if ua := getUserAgentOverride(); ua != "" {
		return ua
	}
	if ua := strings.TrimSpace(os.Getenv("MCPANEL_USER_AGENT")); ua != "" {
		return ua
	}
	return defaultUserAgent()
}

func userAgent() string {
	return effectiveUserAgent()
}

func applySettingsDefaults(cfg *AppSettings) {
	if strings.TrimSpace(cfg.JavaPath) == "" {
		cfg.JavaPath = defaultJavaPath
	}
	if strings.TrimSpace(cfg.JarFile) == "" {
		cfg.JarFile = defaultJarFile
	}
	if strings.TrimSpace(cfg.MaxRAM) == "" {
		cfg.MaxRAM = defaultRAM
	}
	if cfg.Flags == "" {
		cfg.Flags = "none"
	}
	if cfg.StopTimeoutSeconds <= 0 {
		cfg.StopTimeoutSeconds = int(defaultStopTimeout.Seconds())
	}
	if cfg.StopTimeoutSeconds > maxStopTimeoutSecs {
		cfg.StopTimeoutSeconds = maxStopTimeoutSecs
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = effectiveUserAgent()
	}
}

func (m *Manager) loadSettings() error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	if m.settingsFile == "" {
		return fmt.Errorf("settings file path is not configured")
	}

	data, err := os.ReadFile(m.settingsFile)
	if err != nil {
		if os.IsNotExist(err) {
			m.settings = AppSettings{}
			applySettingsDefaults(&m.settings)
			setUserAgentOverride(m.settings.UserAgent)
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var cfg AppSettings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}
	cfg.UserAgent = strings.TrimSpace(cfg.UserAgent)
	applySettingsDefaults(&cfg)
	m.settings = cfg
	setUserAgentOverride(cfg.UserAgent)
	return nil
}

func (m *Manager) persistSettings() error {
	if m.settingsFile == "" {
		return fmt.Errorf("settings file path is not configured")
	}
	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.settingsFile), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := writeFileAtomic(m.settingsFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// GetSettings returns the settings with the password hash removed
func (m *Manager) GetSettings() AppSettings {
	s := m.settingsSnapshot()
	s.LoginPasswordHash = ""
	return s
}

func (m *Manager) settingsSnapshot() AppSettings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	s := m.settings
	applySettingsDefaults(&s)
	return s
}

func validateRAM(field, v string) error {
	if v != "" && !ramPattern.MatchString(v) {
		return fmt.Errorf("%s must look like 1024M or 2G", field)
	}
	return nil
}

// UpdateAppSettings validates and persists new panel settings. The stop
// timeout applies to the next stop; the supervisor picks it up on the next
// start.
func (m *Manager) UpdateAppSettings(req SettingsUpdate) (AppSettings, error) {
	req.MaxRAM = strings.TrimSpace(req.MaxRAM)
	req.MinRAM = strings.TrimSpace(req.MinRAM)
	if err := validateRAM("maxRam", req.MaxRAM); err != nil {
		return AppSettings{}, err
	}
	if err := validateRAM("minRam", req.MinRAM); err != nil {
		return AppSettings{}, err
	}
	if req.StopTimeoutSeconds != 0 && (req.StopTimeoutSeconds < minStopTimeoutSecs || req.StopTimeoutSeconds > maxStopTimeoutSecs) {
		return AppSettings{}, fmt.Errorf("stopTimeoutSeconds must be between %d and %d", minStopTimeoutSecs, maxStopTimeoutSecs)
	}
	flags := strings.ToLower(strings.TrimSpace(req.Flags))
	if flags != "" && flags != "none" && flags != "aikars" {
		return AppSettings{}, fmt.Errorf("flags must be none or aikars")
	}
	jar := strings.TrimSpace(req.JarFile)
	if jar != "" && jar != filepath.Base(jar) {
		return AppSettings{}, fmt.Errorf("jarFile must be a file name inside the server directory")
	}

	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	next := AppSettings{
		JavaPath:           strings.TrimSpace(req.JavaPath),
		JarFile:            jar,
		MaxRAM:             req.MaxRAM,
		MinRAM:             req.MinRAM,
		Flags:              flags,
		AlwaysPreTouch:     req.AlwaysPreTouch,
		ExtraJVMArgs:       strings.TrimSpace(req.ExtraJVMArgs),
		StopTimeoutSeconds: req.StopTimeoutSeconds,
		UserAgent:          strings.TrimSpace(req.UserAgent),
		LoginUser:          strings.TrimSpace(req.LoginUser),
		LoginPasswordHash:  m.settings.LoginPasswordHash,
	}
	if next.UserAgent == "" {
		next.UserAgent = defaultUserAgent()
	}

	switch {
	case next.LoginUser == "":
		next.LoginPasswordHash = ""
	case req.LoginPassword != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(req.LoginPassword), bcrypt.DefaultCost)
		if err != nil {
			return AppSettings{}, fmt.Errorf("failed to hash password: %w", err)
		}
		next.LoginPasswordHash = string(hash)
	case next.LoginPasswordHash == "":
		return AppSettings{}, fmt.Errorf("a password is required to enable login")
	}
	applySettingsDefaults(&next)

	prev := m.settings
	m.settings = next
	if err := m.persistSettings(); err != nil {
		m.settings = prev
		return AppSettings{}, err
	}
	setUserAgentOverride(next.UserAgent)

	out := next
	out.LoginPasswordHash = ""
	return out, nil
}

// AuthEnabled reports whether a panel login has been configured
// ChangesLaunchCommand reports whether applying req would swap the java
// executable or the extra JVM arguments of cur
func (req SettingsUpdate) ChangesLaunchCommand(cur AppSettings) bool {
	java := strings.TrimSpace(req.JavaPath)
	if java == "" {
		java = defaultJavaPath
	}
	return java != cur.JavaPath || strings.TrimSpace(req.ExtraJVMArgs) != cur.ExtraJVMArgs
}

func (m *Manager) AuthEnabled() bool {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.settings.LoginUser != "" && m.settings.LoginPasswordHash != ""
}

// ValidateLogin checks credentials against the stored bcrypt hash
func (m *Manager) ValidateLogin(username, password string) bool {
	m.settingsMu.RLock()
	user := m.settings.LoginUser
	hash := m.settings.LoginPasswordHash
	m.settingsMu.RUnlock()

	if user == "" || hash == "" || username != user {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
