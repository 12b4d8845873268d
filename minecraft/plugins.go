package minecraft

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	unknownVersion       = "Unknown"
	noDescription        = "No description"
	noDescriptorFound    = "No plugin descriptor found"
	disabledPluginSuffix = ".disabled"
)

var (
	ErrInvalidPluginFile = errors.New("only .jar files are allowed")
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrPluginExists      = errors.New("plugin already exists")
)

// PluginInfo represents a plugin jar file
type PluginInfo struct {
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Loader      string `json:"loader,omitempty"`
	Size        string `json:"size"`
	Enabled     bool   `json:"enabled"`
}

// pluginDescriptor is what one embedded descriptor file yields
type pluginDescriptor struct {
	Name        string
	Version     string
	Description string
	Loader      string
}

// PluginDir manages the jars in a plugins directory
type PluginDir struct {
	dir string
}

func NewPluginDir(dir string) *PluginDir {
	return &PluginDir{dir: dir}
}

func (p *PluginDir) Path() string {
	return p.dir
}

func (p *PluginDir) ensure() error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}
	return nil
}

func isPluginFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".jar"+disabledPluginSuffix)
}

// pluginPath resolves a bare file name inside the plugins dir
func (p *PluginDir) pluginPath(fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("invalid plugin file name %q", fileName)
	}
	return SafePath(p.dir, fileName)
}

// List scans the directory for .jar and .jar.disabled files, sorted by name
func (p *PluginDir) List() ([]PluginInfo, error) {
	if err := p.ensure(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	plugins := make([]PluginInfo, 0)
	for _, entry := range entries {
		if entry.IsDir() || !isPluginFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		plugins = append(plugins, describePlugin(filepath.Join(p.dir, entry.Name()), info))
	}

	sort.Slice(plugins, func(i, j int) bool {
		return strings.ToLower(plugins[i].Name) < strings.ToLower(plugins[j].Name)
	})
	return plugins, nil
}

func describePlugin(path string, info os.FileInfo) PluginInfo {
	fileName := filepath.Base(path)
	plugin := PluginInfo{
		Name:        fileName,
		FileName:    fileName,
		Version:     unknownVersion,
		Description: noDescriptorFound,
		Size:        formatFileSize(info.Size()),
		Enabled:     !strings.HasSuffix(strings.ToLower(fileName), disabledPluginSuffix),
	}

	desc, ok := readPluginDescriptor(path)
	if !ok {
		return plugin
	}
	plugin.Loader = desc.Loader
	plugin.Description = noDescription
	if desc.Name != "" {
		plugin.Name = desc.Name
	}
	if desc.Version != "" {
		plugin.Version = desc.Version
	}
	if desc.Description != "" {
		plugin.Description = desc.Description
	}
	return plugin
}

// readPluginDescriptor opens a jar and reads the first descriptor it knows:
// fabric.mod.json, then plugin.yml / bungee.yml, then META-INF/mods.toml.
func readPluginDescriptor(jarPath string) (pluginDescriptor, bool) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return pluginDescriptor{}, false
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	if f, ok := files["fabric.mod.json"]; ok {
		if d, ok := parseFabricModJSON(f); ok {
			return d, true
		}
	}
	for _, name := range []string{"plugin.yml", "paper-plugin.yml", "bungee.yml"} {
		if f, ok := files[name]; ok {
			if d, ok := parsePluginYML(f); ok {
				return d, true
			}
		}
	}
	if f, ok := files["META-INF/mods.toml"]; ok {
		if d, ok := parseModsToml(f); ok {
			return d, true
		}
	}
	return pluginDescriptor{}, false
}

func parseFabricModJSON(f *zip.File) (pluginDescriptor, bool) {
	rc, err := f.Open()
	if err != nil {
		return pluginDescriptor{}, false
	}
	defer rc.Close()

	var data struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return pluginDescriptor{}, false
	}
	return pluginDescriptor{
		Name:        data.Name,
		Version:     data.Version,
		Description: data.Description,
		Loader:      "fabric",
	}, true
}

func parsePluginYML(f *zip.File) (pluginDescriptor, bool) {
	rc, err := f.Open()
	if err != nil {
		return pluginDescriptor{}, false
	}
	defer rc.Close()

	var data struct {
		Name        string      `yaml:"name"`
		Version     interface{} `yaml:"version"`
		Description string      `yaml:"description"`
	}
	if err := yaml.NewDecoder(rc).Decode(&data); err != nil {
		return pluginDescriptor{}, false
	}
	d := pluginDescriptor{
		Name:        data.Name,
		Description: data.Description,
		Loader:      "bukkit",
	}
	if data.Version != nil {
		d.Version = fmt.Sprintf("%v", data.Version)
	}
	return d, true
}

func parseModsToml(f *zip.File) (pluginDescriptor, bool) {
	rc, err := f.Open()
	if err != nil {
		return pluginDescriptor{}, false
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return pluginDescriptor{}, false
	}

	d := pluginDescriptor{Loader: "forge"}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "displayName"):
			if v := extractTomlValue(line); v != "" {
				d.Name = v
			}
		case strings.HasPrefix(line, "versionRange"):
		case strings.HasPrefix(line, "version"):
			if v := extractTomlValue(line); v != "" && v != "${file.jarVersion}" {
				d.Version = v
			}
		case strings.HasPrefix(line, "description"):
			if v := extractTomlValue(line); v != "" && !strings.HasPrefix(v, "'''") {
				d.Description = v
			}
		}
	}
	return d, true
}

func extractTomlValue(line string) string {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return ""
	}
	val := strings.TrimSpace(parts[1])
	return strings.Trim(val, "\"'")
}

// Install copies a jar from srcPath into the plugins dir, keeping its mode and
// modification time
func (p *PluginDir) Install(srcPath string) (PluginInfo, error) {
	fileName := filepath.Base(srcPath)
	if !strings.HasSuffix(strings.ToLower(fileName), ".jar") {
		return PluginInfo{}, fmt.Errorf("%w: %s", ErrInvalidPluginFile, fileName)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return PluginInfo{}, fmt.Errorf("failed to open plugin: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return PluginInfo{}, fmt.Errorf("failed to stat plugin: %w", err)
	}
	if info.IsDir() {
		return PluginInfo{}, fmt.Errorf("%w: %s is a directory", ErrInvalidPluginFile, fileName)
	}

	dest, err := p.write(fileName, src, info.Mode().Perm())
	if err != nil {
		return PluginInfo{}, err
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return PluginInfo{}, fmt.Errorf("failed to preserve plugin timestamps: %w", err)
	}
	return p.describe(dest)
}

// Upload stores an uploaded jar under fileName
func (p *PluginDir) Upload(fileName string, r io.Reader) (PluginInfo, error) {
	fileName = filepath.Base(fileName)
	if !strings.HasSuffix(strings.ToLower(fileName), ".jar") {
		return PluginInfo{}, fmt.Errorf("%w: %s", ErrInvalidPluginFile, fileName)
	}
	dest, err := p.write(fileName, r, 0644)
	if err != nil {
		return PluginInfo{}, err
	}
	return p.describe(dest)
}

func (p *PluginDir) write(fileName string, r io.Reader, perm os.FileMode) (string, error) {
	if err := p.ensure(); err != nil {
		return "", err
	}
	dest, err := p.pluginPath(fileName)
	if err != nil {
		return "", err
	}

	tmpPath := dest + ".part"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return "", fmt.Errorf("failed to create plugin file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to install plugin: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to install plugin: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to install plugin: %w", err)
	}
	return dest, nil
}

func (p *PluginDir) describe(path string) (PluginInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PluginInfo{}, err
	}
	return describePlugin(path, info), nil
}

// Delete removes a plugin jar
func (p *PluginDir) Delete(fileName string) error {
	path, err := p.pluginPath(fileName)
	if err != nil {
		return err
	}
	if !isPluginFile(fileName) {
		return fmt.Errorf("%w: %s", ErrInvalidPluginFile, fileName)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, fileName)
		}
		return err
	}
	return nil
}

// Toggle enables/disables a plugin by renaming .jar <-> .jar.disabled
func (p *PluginDir) Toggle(fileName string) (PluginInfo, error) {
	oldPath, err := p.pluginPath(fileName)
	if err != nil {
		return PluginInfo{}, err
	}
	if !isPluginFile(fileName) {
		return PluginInfo{}, fmt.Errorf("%w: %s", ErrInvalidPluginFile, fileName)
	}

	var newName string
	if strings.HasSuffix(strings.ToLower(fileName), disabledPluginSuffix) {
		newName = fileName[:len(fileName)-len(disabledPluginSuffix)]
	} else {
		newName = fileName + disabledPluginSuffix
	}
	newPath := filepath.Join(p.dir, newName)

	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return PluginInfo{}, fmt.Errorf("%w: %s", ErrPluginNotFound, fileName)
	}
	// never replace the other copy of the same plugin
	if _, err := os.Lstat(newPath); err == nil {
		return PluginInfo{}, fmt.Errorf("%w: %s", ErrPluginExists, newName)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return PluginInfo{}, fmt.Errorf("%w: %s", ErrPluginNotFound, fileName)
		}
		return PluginInfo{}, err
	}
	return p.describe(newPath)
}

// formatFileSize formats bytes into human-readable size
func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// SafePath validates a subpath within a directory to prevent path traversal
func SafePath(baseDir, subPath string) (string, error) {
	cleaned := filepath.Clean(subPath)
	if cleaned == "." || cleaned == "" {
		return baseDir, nil
	}
	fullPath := filepath.Join(baseDir, cleaned)
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return fullPath, nil
}
