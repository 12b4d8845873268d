package minecraft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"mcpanel/logging"
)

var ErrServerBusy = errors.New("server must be stopped first")

// ManagerOptions configures NewManager. Zero values fall back to defaults.
type ManagerOptions struct {
	// BundleDir holds server_options/<version>/server.jar; defaults to the
	// server directory
	BundleDir   string
	PlayerDBURL string
	Registerer  prometheus.Registerer
	NoWatch     bool
}

// ServerStatus is what the panel shows about the server
type ServerStatus struct {
	ProcessStatus
	CPU       float64 `json:"cpu"`
	RAM       float64 `json:"ram"`
	Installed bool    `json:"installed"`
	JarFile   string  `json:"jarFile"`
	Directory string  `json:"directory"`
}

// Manager owns everything the panel controls for one server directory
type Manager struct {
	baseDir    string
	supervisor *Supervisor
	metrics    *Metrics
	whitelist  *Whitelist
	properties *Properties
	plugins    *PluginDir
	installer  *Installer
	resolver   *UUIDResolver
	watcher    *Watcher
	log        *zerolog.Logger

	settingsMu   sync.RWMutex
	settings     AppSettings
	settingsFile string

	// serializes whole-file operations that race with the watcher
	filesMu   sync.Mutex
	closeOnce sync.Once
}

func NewManager(baseDir string, opts ManagerOptions) (*Manager, error) {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create server directory: %w", err)
	}
	if opts.BundleDir == "" {
		opts.BundleDir = absDir
	}

	mgr := &Manager{
		baseDir:      absDir,
		settingsFile: filepath.Join(absDir, ".mcpanel", "settings.json"),
		log:          logging.GetSubsystemLogger("manager"),
	}
	if err := mgr.loadSettings(); err != nil {
		return nil, err
	}
	cfg := mgr.settingsSnapshot()

	mgr.metrics = NewMetrics(opts.Registerer, logging.GetSubsystemLogger("metrics"))
	mgr.supervisor = NewSupervisor(SupervisorOptions{
		StopTimeout: time.Duration(cfg.StopTimeoutSeconds) * time.Second,
		Filters:     DefaultFilters(),
		Metrics:     mgr.metrics,
		Logger:      logging.GetSubsystemLogger("supervisor"),
	})

	mgr.whitelist = LoadWhitelist(filepath.Join(absDir, "whitelist.json"))
	mgr.properties, err = LoadProperties(filepath.Join(absDir, "server.properties"))
	if err != nil {
		return nil, err
	}
	mgr.plugins = NewPluginDir(filepath.Join(absDir, "plugins"))
	if err := mgr.plugins.ensure(); err != nil {
		return nil, err
	}
	mgr.installer = NewInstaller(absDir, opts.BundleDir, logging.GetSubsystemLogger("installer"))
	mgr.resolver = NewUUIDResolver(opts.PlayerDBURL)

	if !opts.NoWatch {
		mgr.watcher, err = NewWatcher(absDir, mgr.plugins.Path(), mgr.onFilesChanged, logging.GetSubsystemLogger("watcher"))
		if err != nil {
			mgr.log.Warn().Err(err).Msg("file watcher disabled")
			mgr.watcher = nil
		}
	}

	mgr.log.Info().Str("dir", absDir).Msg("manager ready")
	return mgr, nil
}

func (m *Manager) Dir() string {
	return m.baseDir
}

func (m *Manager) onFilesChanged(kind WatchKind) {
	switch kind {
	case WatchWhitelist:
		m.filesMu.Lock()
		ok := m.whitelist.Reload()
		m.filesMu.Unlock()
		if !ok {
			m.log.Warn().Str("path", m.whitelist.Path()).Msg("whitelist file is not valid JSON, showing an empty list")
		}
		m.supervisor.Publish(Event{Type: EventWhitelist})
	case WatchProperties:
		m.filesMu.Lock()
		err := m.properties.Reload()
		m.filesMu.Unlock()
		if err != nil {
			m.log.Warn().Err(err).Str("path", m.properties.Path()).Msg("failed to reload server.properties")
			return
		}
		m.supervisor.Publish(Event{Type: EventProperties})
	case WatchPlugins:
		m.supervisor.Publish(Event{Type: EventPlugins})
	}
}

// buildJVMFlags returns the GC tuning preset named by flags
func buildJVMFlags(flags string, alwaysPreTouch bool) []string {
	var args []string
	if flags == "aikars" {
		args = []string{
			"-XX:+UseG1GC",
			"-XX:+ParallelRefProcEnabled",
			"-XX:MaxGCPauseMillis=200",
			"-XX:+UnlockExperimentalVMOptions",
			"-XX:+DisableExplicitGC",
			"-XX:G1HeapWastePercent=5",
			"-XX:G1MixedGCCountTarget=4",
			"-XX:InitiatingHeapOccupancyPercent=15",
			"-XX:G1MixedGCLiveThresholdPercent=90",
			"-XX:G1RSetUpdatingPauseTimePercent=5",
			"-XX:SurvivorRatio=32",
			"-XX:+PerfDisableSharedMem",
			"-XX:MaxTenuringThreshold=1",
			"-XX:G1NewSizePercent=30",
			"-XX:G1MaxNewSizePercent=40",
			"-XX:G1HeapRegionSize=8M",
			"-XX:G1ReservePercent=20",
		}
	}
	if alwaysPreTouch && len(args) > 0 {
		args = append(args, "-XX:+AlwaysPreTouch")
	}
	return args
}

// launchSpec builds `java -Xmx<max> -Xms<min> [flags] -jar <jar> nogui`.
// Without a minimum both heap bounds use the same value.
func (m *Manager) launchSpec(cfg AppSettings) LaunchSpec {
	minRAM := cfg.MinRAM
	if minRAM == "" {
		minRAM = cfg.MaxRAM
	}
	args := []string{"-Xmx" + cfg.MaxRAM, "-Xms" + minRAM}
	args = append(args, buildJVMFlags(cfg.Flags, cfg.AlwaysPreTouch)...)
	args = append(args, strings.Fields(cfg.ExtraJVMArgs)...)
	args = append(args, "-jar", cfg.JarFile, "nogui")
	return LaunchSpec{Path: cfg.JavaPath, Args: args, Dir: m.baseDir}
}

// Start launches the server with the current panel settings
func (m *Manager) Start() error {
	if state := m.supervisor.State(); state != StateNotRunning {
		return fmt.Errorf("%w (state: %s)", ErrAlreadyRunning, state)
	}

	cfg := m.settingsSnapshot()
	jarPath := filepath.Join(m.baseDir, cfg.JarFile)
	if info, err := os.Stat(jarPath); err != nil || info.IsDir() {
		m.log.Error().Str("path", jarPath).Msg("server jar not found")
		m.supervisor.Publish(Event{
			Type:  EventFailed,
			Error: fmt.Sprintf("Failed to start server: could not find %s in %s", cfg.JarFile, m.baseDir),
		})
		return fmt.Errorf("%w at %s", ErrJarNotFound, jarPath)
	}

	m.supervisor.SetStopTimeout(time.Duration(cfg.StopTimeoutSeconds) * time.Second)
	if err := m.supervisor.Start(m.launchSpec(cfg)); err != nil {
		return err
	}
	if done := m.supervisor.Done(); done != nil {
		go m.metrics.Collect(m.supervisor.PID(), done)
	}
	return nil
}

func (m *Manager) Stop() error {
	return m.supervisor.Stop()
}

func (m *Manager) Kill() error {
	return m.supervisor.Kill()
}

func (m *Manager) StopAndWait(ctx context.Context) error {
	return m.supervisor.StopAndWait(ctx)
}

func (m *Manager) Status() ServerStatus {
	cfg := m.settingsSnapshot()
	usage := m.metrics.Usage()
	install := m.installer.Status(cfg.JarFile)
	return ServerStatus{
		ProcessStatus: m.supervisor.Status(),
		CPU:           usage.CPUPercent,
		RAM:           usage.RAMMB,
		Installed:     install.Installed,
		JarFile:       cfg.JarFile,
		Directory:     m.baseDir,
	}
}

// SendCommand forwards one line of operator input. Blank input is ignored.
func (m *Manager) SendCommand(input string) error {
	command := normalizeConsoleInput(input)
	if command == "" {
		return nil
	}
	return m.supervisor.SendCommand(command)
}

func (m *Manager) BanPlayer(name, reason string) error {
	command, err := BanCommand(name, reason)
	if err != nil {
		return err
	}
	return m.supervisor.SendCommand(command)
}

func (m *Manager) KickPlayer(name, reason string) error {
	command, err := KickCommand(name, reason)
	if err != nil {
		return err
	}
	return m.supervisor.SendCommand(command)
}

func (m *Manager) PardonPlayer(name string) error {
	command, err := PardonCommand(name)
	if err != nil {
		return err
	}
	return m.supervisor.SendCommand(command)
}

func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.supervisor.Subscribe()
}

func (m *Manager) Backlog() []string {
	return m.supervisor.Backlog()
}

func (m *Manager) Properties() map[string]string {
	return m.properties.Map()
}

// UpdateProperties sets every given key and saves the file
func (m *Manager) UpdateProperties(values map[string]string) (map[string]string, error) {
	m.filesMu.Lock()
	defer m.filesMu.Unlock()

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.properties.Set(key, values[key]); err != nil {
			return nil, err
		}
	}
	if err := m.properties.Save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save server.properties")
		return nil, err
	}
	m.supervisor.Publish(Event{Type: EventProperties})
	return m.properties.Map(), nil
}

func (m *Manager) ServerSettings() ServerSettings {
	return ServerSettingsFromProperties(m.properties)
}

func (m *Manager) UpdateServerSettings(s ServerSettings) (ServerSettings, error) {
	if err := s.Validate(); err != nil {
		return ServerSettings{}, err
	}

	m.filesMu.Lock()
	defer m.filesMu.Unlock()

	if err := s.ApplyTo(m.properties); err != nil {
		return ServerSettings{}, err
	}
	if err := m.properties.Save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save server.properties")
		return ServerSettings{}, err
	}
	m.supervisor.Publish(Event{Type: EventProperties})
	return ServerSettingsFromProperties(m.properties), nil
}

func (m *Manager) Whitelist() []WhitelistEntry {
	return m.whitelist.Entries()
}

func (m *Manager) AddWhitelist(name, id string) (WhitelistEntry, error) {
	m.filesMu.Lock()
	entry, err := m.whitelist.Add(name, id)
	m.filesMu.Unlock()
	if err != nil {
		return WhitelistEntry{}, err
	}
	m.log.Info().Str("player", entry.Name).Str("uuid", entry.UUID).Msg("whitelisted player")
	m.whitelistChanged()
	return entry, nil
}

// AddWhitelistByName resolves name to a uuid before adding it
func (m *Manager) AddWhitelistByName(ctx context.Context, name string) (WhitelistEntry, error) {
	id, err := m.resolver.Lookup(ctx, name)
	if err != nil {
		return WhitelistEntry{}, err
	}
	return m.AddWhitelist(strings.TrimSpace(name), id)
}

func (m *Manager) RemoveWhitelist(id string) (WhitelistEntry, error) {
	m.filesMu.Lock()
	entry, err := m.whitelist.RemoveUUID(id)
	m.filesMu.Unlock()
	if err != nil {
		return WhitelistEntry{}, err
	}
	m.log.Info().Str("player", entry.Name).Str("uuid", entry.UUID).Msg("removed player from whitelist")
	m.whitelistChanged()
	return entry, nil
}

// whitelistChanged lets a running server pick up the edited file
func (m *Manager) whitelistChanged() {
	m.supervisor.Publish(Event{Type: EventWhitelist})
	if m.supervisor.State() != StateRunning {
		return
	}
	if err := m.supervisor.SendCommand("whitelist reload"); err != nil {
		m.log.Warn().Err(err).Msg("failed to reload whitelist on server")
	}
}

func (m *Manager) ListPlugins() ([]PluginInfo, error) {
	return m.plugins.List()
}

func (m *Manager) InstallPlugin(srcPath string) (PluginInfo, error) {
	info, err := m.plugins.Install(srcPath)
	if err != nil {
		return PluginInfo{}, err
	}
	m.log.Info().Str("plugin", info.FileName).Msg("installed plugin")
	m.supervisor.Publish(Event{Type: EventPlugins})
	return info, nil
}

func (m *Manager) UploadPlugin(fileName string, r io.Reader) (PluginInfo, error) {
	info, err := m.plugins.Upload(fileName, r)
	if err != nil {
		return PluginInfo{}, err
	}
	m.log.Info().Str("plugin", info.FileName).Msg("uploaded plugin")
	m.supervisor.Publish(Event{Type: EventPlugins})
	return info, nil
}

func (m *Manager) DeletePlugin(fileName string) error {
	if err := m.plugins.Delete(fileName); err != nil {
		return err
	}
	m.log.Info().Str("plugin", fileName).Msg("deleted plugin")
	m.supervisor.Publish(Event{Type: EventPlugins})
	return nil
}

func (m *Manager) TogglePlugin(fileName string) (PluginInfo, error) {
	info, err := m.plugins.Toggle(fileName)
	if err != nil {
		return PluginInfo{}, err
	}
	m.supervisor.Publish(Event{Type: EventPlugins})
	return info, nil
}

func (m *Manager) InstallStatus() InstallStatus {
	return m.installer.Status(m.settingsSnapshot().JarFile)
}

// Versions lists installable versions. source is "bundled" or "vanilla".
func (m *Manager) Versions(ctx context.Context, source string) ([]VersionInfo, error) {
	switch source {
	case "", "bundled":
		return m.installer.BundledVersions()
	case "vanilla":
		return m.installer.VanillaVersions(ctx)
	default:
		return nil, fmt.Errorf("unknown version source %q", source)
	}
}

// Install places the chosen server jar and accepts the EULA. It returns the
// installed version.
func (m *Manager) Install(ctx context.Context, source, version string) (string, error) {
	if state := m.supervisor.State(); state != StateNotRunning {
		return "", fmt.Errorf("%w (state: %s)", ErrServerBusy, state)
	}
	jar := m.settingsSnapshot().JarFile

	installed := version
	var err error
	switch source {
	case "", "bundled":
		err = m.installer.InstallBundled(version, jar)
	case "vanilla":
		installed, err = m.installer.InstallVanilla(ctx, version, jar)
	default:
		err = fmt.Errorf("unknown version source %q", source)
	}
	if err != nil {
		m.log.Error().Err(err).Str("source", source).Str("version", version).Msg("install failed")
		return "", err
	}
	if err := m.installer.AcceptEULA(); err != nil {
		return "", err
	}
	return installed, nil
}

// Close stops the server, waiting at most until ctx ends, and releases the
// watcher
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
		err = m.supervisor.StopAndWait(ctx)
	})
	return err
}
