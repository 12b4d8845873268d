package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcpanel/logging"
	"mcpanel/minecraft"
)

const (
	sessionCookieName = "mcpanel_session"
	sessionTTL        = 7 * 24 * time.Hour
	loginWindow       = 15 * time.Minute
	loginBlockTime    = 15 * time.Minute
	loginMaxFailures  = 10
)

// publicPaths stay reachable without a session
var publicPaths = map[string]bool{
	"/api/auth/login":   true,
	"/api/auth/logout":  true,
	"/api/auth/session": true,
	"/api/health":       true,
}

type session struct {
	username string
	expires  time.Time
}

// sessionStore holds in-memory login sessions keyed by random token
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]session)}
}

func (s *sessionStore) create(username string, now time.Time) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	token := hex.EncodeToString(b)
	expires := now.Add(sessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, t)
		}
	}
	s.sessions[token] = session{username: username, expires: expires}
	return token, expires, nil
}

func (s *sessionStore) lookup(token string, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	if now.After(sess.expires) {
		delete(s.sessions, token)
		return "", false
	}
	return sess.username, true
}

func (s *sessionStore) remove(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

type failureWindow struct {
	count        int
	start        time.Time
	blockedUntil time.Time
}

// loginLimiter blocks an address for loginBlockTime after loginMaxFailures
// failures inside loginWindow
type loginLimiter struct {
	mu       sync.Mutex
	failures map[string]failureWindow
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{failures: make(map[string]failureWindow)}
}

func (l *loginLimiter) blocked(ip string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.failures[ip]; ok && f.blockedUntil.After(now) {
		return f.blockedUntil.Sub(now)
	}
	return 0
}

func (l *loginLimiter) fail(ip string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.failures[ip]
	if f.start.IsZero() || now.Sub(f.start) > loginWindow {
		f = failureWindow{start: now}
	}
	f.count++
	if f.count >= loginMaxFailures {
		f.blockedUntil = now.Add(loginBlockTime)
	}
	l.failures[ip] = f
}

func (l *loginLimiter) reset(ip string) {
	l.mu.Lock()
	delete(l.failures, ip)
	l.mu.Unlock()
}

// AuthHandler issues cookie sessions for the panel login configured in the
// app settings. Without a configured login every request is let through.
type AuthHandler struct {
	mgr      *minecraft.Manager
	sessions *sessionStore
	limiter  *loginLimiter
	log      *zerolog.Logger
}

func NewAuthHandler(mgr *minecraft.Manager) *AuthHandler {
	return &AuthHandler{
		mgr:      mgr,
		sessions: newSessionStore(),
		limiter:  newLoginLimiter(),
		log:      logging.GetSubsystemLogger("auth"),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
		MaxAge:   maxAge,
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	now := time.Now()
	if wait := h.limiter.blocked(ip, now); wait > 0 {
		seconds := int(wait.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		respondError(w, http.StatusTooManyRequests, "Too many failed login attempts. Try again later.")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.limiter.fail(ip, now)
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	if !h.mgr.ValidateLogin(req.Username, req.Password) {
		h.limiter.fail(ip, now)
		h.log.Warn().Str("ip", ip).Str("username", req.Username).Msg("failed login")
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	h.limiter.reset(ip)

	token, expires, err := h.sessions.create(req.Username, now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	setSessionCookie(w, r, token, expires, int(sessionTTL.Seconds()))
	h.log.Info().Str("ip", ip).Str("username", req.Username).Msg("login")

	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      req.Username,
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		h.sessions.remove(c.Value)
	}
	setSessionCookie(w, r, "", time.Unix(0, 0), -1)
	respondJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

// Session handles GET /api/auth/session. With no login configured every
// caller counts as authenticated.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	required := h.mgr.AuthEnabled()
	resp := map[string]any{
		"authenticated": !required,
		"authRequired":  required,
	}
	if username, ok := h.username(r); ok {
		resp["authenticated"] = true
		resp["username"] = username
	}
	respondJSON(w, http.StatusOK, resp)
}

// Middleware rejects /api/ requests without a session once a login exists
func (h *AuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions ||
			!strings.HasPrefix(r.URL.Path, "/api/") ||
			publicPaths[r.URL.Path] ||
			!h.mgr.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := h.username(r); !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AuthHandler) username(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", false
	}
	return h.sessions.lookup(c.Value, time.Now())
}
