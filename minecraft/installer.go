package minecraft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

var (
	ErrJarNotFound        = errors.New("server jar not found")
	ErrVersionUnavailable = errors.New("server version not available")
)

const (
	bundledOptionsDir         = "server_options"
	defaultVersionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"
)

// VersionInfo represents a single installable server version
type VersionInfo struct {
	Version string `json:"version"`
	Latest  bool   `json:"latest"`
	Source  string `json:"source"`
}

// InstallStatus describes whether the server directory holds a server
type InstallStatus struct {
	Installed bool   `json:"installed"`
	JarFile   string `json:"jarFile"`
	HasJar    bool   `json:"hasJar"`
	HasWorld  bool   `json:"hasWorld"`
}

// Installer places a server jar into the server directory, either from the
// bundled server_options tree or from Mojang's release feed
type Installer struct {
	serverDir   string
	bundleDir   string
	manifestURL string
	client      *http.Client
	log         *zerolog.Logger
}

func NewInstaller(serverDir, bundleDir string, log *zerolog.Logger) *Installer {
	return &Installer{
		serverDir:   serverDir,
		bundleDir:   bundleDir,
		manifestURL: defaultVersionManifestURL,
		client:      &http.Client{Timeout: 10 * time.Minute},
		log:         log,
	}
}

// Status treats either a world directory or the jar as an existing install
func (i *Installer) Status(jarFile string) InstallStatus {
	st := InstallStatus{JarFile: jarFile}
	if info, err := os.Stat(filepath.Join(i.serverDir, "world")); err == nil && info.IsDir() {
		st.HasWorld = true
	}
	if info, err := os.Stat(filepath.Join(i.serverDir, jarFile)); err == nil && !info.IsDir() {
		st.HasJar = true
	}
	st.Installed = st.HasWorld || st.HasJar
	return st
}

// BundledVersions lists server_options/<version>/server.jar entries,
// newest first
func (i *Installer) BundledVersions() ([]VersionInfo, error) {
	root := filepath.Join(i.bundleDir, bundledOptionsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []VersionInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read bundled versions: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), defaultJarFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sortVersionsDesc(names)

	versions := make([]VersionInfo, 0, len(names))
	for idx, name := range names {
		versions = append(versions, VersionInfo{Version: name, Latest: idx == 0, Source: "bundled"})
	}
	return versions, nil
}

// sortVersionsDesc orders semver-looking names newest first and leaves the
// rest after them alphabetically
func sortVersionsDesc(names []string) {
	sort.SliceStable(names, func(a, b int) bool {
		va, errA := semver.NewVersion(names[a])
		vb, errB := semver.NewVersion(names[b])
		switch {
		case errA == nil && errB == nil:
			return va.GreaterThan(vb)
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return names[a] < names[b]
		}
	})
}

// InstallBundled copies server_options/<version>/server.jar into the server
// directory as jarFile
func (i *Installer) InstallBundled(version, jarFile string) error {
	if version == "" || version != filepath.Base(version) || strings.HasPrefix(version, ".") {
		return fmt.Errorf("%w: %q", ErrVersionUnavailable, version)
	}
	src := filepath.Join(i.bundleDir, bundledOptionsDir, version, defaultJarFile)
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: could not find server jar at %s", ErrVersionUnavailable, src)
		}
		return fmt.Errorf("failed to open bundled jar: %w", err)
	}
	defer in.Close()

	if err := i.writeJar(jarFile, in); err != nil {
		return err
	}
	i.log.Info().Str("version", version).Str("source", "bundled").Msg("installed server jar")
	return nil
}

type mojangVersionManifest struct {
	Latest struct {
		Release string `json:"release"`
	} `json:"latest"`
	Versions []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"versions"`
}

type mojangVersionMeta struct {
	Downloads struct {
		Server struct {
			URL string `json:"url"`
		} `json:"server"`
	} `json:"downloads"`
}

// VanillaVersions lists release versions from Mojang's manifest
func (i *Installer) VanillaVersions(ctx context.Context) ([]VersionInfo, error) {
	var manifest mojangVersionManifest
	if err := i.fetchJSON(ctx, i.manifestURL, &manifest); err != nil {
		return nil, err
	}

	versions := make([]VersionInfo, 0, len(manifest.Versions))
	for _, v := range manifest.Versions {
		if !strings.EqualFold(v.Type, "release") {
			continue
		}
		versions = append(versions, VersionInfo{
			Version: v.ID,
			Latest:  v.ID == manifest.Latest.Release,
			Source:  "vanilla",
		})
	}
	if len(versions) > 0 {
		hasLatest := false
		for _, v := range versions {
			if v.Latest {
				hasLatest = true
				break
			}
		}
		if !hasLatest {
			versions[0].Latest = true
		}
	}
	return versions, nil
}

// InstallVanilla downloads the official server jar. "latest" resolves to the
// current release.
func (i *Installer) InstallVanilla(ctx context.Context, version, jarFile string) (string, error) {
	var manifest mojangVersionManifest
	if err := i.fetchJSON(ctx, i.manifestURL, &manifest); err != nil {
		return "", err
	}

	resolved := strings.TrimSpace(version)
	if resolved == "" || strings.EqualFold(resolved, "latest") {
		resolved = manifest.Latest.Release
	}

	metaURL := ""
	for _, v := range manifest.Versions {
		if v.ID == resolved {
			metaURL = v.URL
			break
		}
	}
	if metaURL == "" {
		return "", fmt.Errorf("%w: vanilla %s", ErrVersionUnavailable, resolved)
	}

	var meta mojangVersionMeta
	if err := i.fetchJSON(ctx, metaURL, &meta); err != nil {
		return "", fmt.Errorf("failed to fetch vanilla version metadata: %w", err)
	}
	if strings.TrimSpace(meta.Downloads.Server.URL) == "" {
		return "", fmt.Errorf("%w: no server download for vanilla %s", ErrVersionUnavailable, resolved)
	}

	i.log.Info().Str("version", resolved).Msg("downloading vanilla server jar")
	if err := i.download(ctx, meta.Downloads.Server.URL, jarFile); err != nil {
		return "", err
	}
	i.log.Info().Str("version", resolved).Str("source", "vanilla").Msg("installed server jar")
	return resolved, nil
}

// AcceptEULA writes eula.txt so the server starts without manual editing
func (i *Installer) AcceptEULA() error {
	path := filepath.Join(i.serverDir, "eula.txt")
	if err := os.WriteFile(path, []byte("eula=true\n"), 0644); err != nil {
		return fmt.Errorf("failed to write eula.txt: %w", err)
	}
	return nil
}

func (i *Installer) fetchJSON(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "application/json")
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request to %s failed with status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (i *Installer) download(ctx context.Context, url, jarFile string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent())
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("download from %s failed with status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return i.writeJar(jarFile, resp.Body)
}

// writeJar streams r into the server dir through a temp file so a failed
// install never leaves a truncated jar behind
func (i *Installer) writeJar(jarFile string, r io.Reader) error {
	if jarFile == "" || jarFile != filepath.Base(jarFile) {
		return fmt.Errorf("invalid jar file name %q", jarFile)
	}
	if err := os.MkdirAll(i.serverDir, 0755); err != nil {
		return fmt.Errorf("failed to create server directory: %w", err)
	}
	dest := filepath.Join(i.serverDir, jarFile)
	tmp := dest + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create server jar: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy server jar: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to copy server jar: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to copy server jar: %w", err)
	}
	return nil
}
