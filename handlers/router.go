package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"mcpanel/minecraft"
)

// RouterOptions carries the optional parts of the HTTP surface
type RouterOptions struct {
	// DistDir holds a built web frontend; empty or missing disables it
	DistDir string
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
}

// NewRouter wires every panel endpoint onto a Go 1.22 ServeMux and wraps it
// with auth and CORS
func NewRouter(mgr *minecraft.Manager, opts RouterOptions) http.Handler {
	serverHandler := NewServerHandler(mgr)
	consoleHandler := NewConsoleHandler(mgr)
	playerHandler := NewPlayerHandler(mgr)
	propertiesHandler := NewPropertiesHandler(mgr)
	whitelistHandler := NewWhitelistHandler(mgr)
	pluginHandler := NewPluginHandler(mgr)
	installHandler := NewInstallHandler(mgr)
	settingsHandler := NewSettingsHandler(mgr)
	authHandler := NewAuthHandler(mgr)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", serverHandler.Health)

	// Auth
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/session", authHandler.Session)

	// Server lifecycle
	mux.HandleFunc("GET /api/server", serverHandler.Status)
	mux.HandleFunc("POST /api/server/start", serverHandler.Start)
	mux.HandleFunc("POST /api/server/stop", serverHandler.Stop)
	mux.HandleFunc("POST /api/server/kill", serverHandler.Kill)
	mux.HandleFunc("POST /api/server/command", serverHandler.Command)

	// WebSocket console
	mux.Handle("GET /api/console", consoleHandler)

	// Player commands
	mux.HandleFunc("POST /api/players/{name}/ban", playerHandler.Ban)
	mux.HandleFunc("POST /api/players/{name}/kick", playerHandler.Kick)
	mux.HandleFunc("POST /api/players/{name}/pardon", playerHandler.Pardon)

	// server.properties
	mux.HandleFunc("GET /api/properties", propertiesHandler.Get)
	mux.HandleFunc("PUT /api/properties", propertiesHandler.Update)
	mux.HandleFunc("GET /api/properties/form", propertiesHandler.GetForm)
	mux.HandleFunc("PUT /api/properties/form", propertiesHandler.UpdateForm)

	// Whitelist
	mux.HandleFunc("GET /api/whitelist", whitelistHandler.List)
	mux.HandleFunc("POST /api/whitelist", whitelistHandler.Add)
	mux.HandleFunc("DELETE /api/whitelist/{uuid}", whitelistHandler.Remove)

	// Plugin management
	mux.HandleFunc("GET /api/plugins", pluginHandler.List)
	mux.HandleFunc("POST /api/plugins", pluginHandler.Upload)
	mux.HandleFunc("DELETE /api/plugins/{name}", pluginHandler.Delete)
	mux.HandleFunc("PUT /api/plugins/{name}/toggle", pluginHandler.Toggle)

	// Installer
	mux.HandleFunc("GET /api/install", installHandler.Status)
	mux.HandleFunc("POST /api/install", installHandler.Install)
	mux.HandleFunc("GET /api/versions", installHandler.Versions)

	// Panel settings
	mux.HandleFunc("GET /api/settings", settingsHandler.Get)
	mux.HandleFunc("PUT /api/settings", settingsHandler.Update)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	if opts.DistDir != "" {
		if info, err := os.Stat(opts.DistDir); err == nil && info.IsDir() {
			mux.Handle("/", spaHandler(opts.DistDir))
		}
	}

	return corsMiddleware(authHandler.Middleware(mux))
}

// spaHandler serves static files from distDir, falling back to index.html for client-side routes
func spaHandler(distDir string) http.Handler {
	fileServer := http.FileServer(http.Dir(distDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(distDir, filepath.Clean(r.URL.Path))

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.ServeFile(w, r, filepath.Join(distDir, "index.html"))
			return
		}

		fileServer.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for a frontend dev server on another port
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
