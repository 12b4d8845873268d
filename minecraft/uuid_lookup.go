package minecraft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tidwall/gjson"
)

var ErrPlayerNotFound = errors.New("player not found")

const (
	defaultPlayerDBURL = "https://playerdb.co/api/player/minecraft/"
	uuidLookupTimeout  = 5 * time.Second
	uuidCacheTTL       = 15 * time.Minute
)

// UUIDResolver maps Minecraft usernames to account uuids through playerdb
type UUIDResolver struct {
	baseURL string
	client  *http.Client
	cache   *ttlcache.Cache[string, string]
}

func NewUUIDResolver(baseURL string) *UUIDResolver {
	if baseURL == "" {
		baseURL = defaultPlayerDBURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &UUIDResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: uuidLookupTimeout},
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](uuidCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Lookup returns the dashed uuid for username
func (r *UUIDResolver) Lookup(ctx context.Context, username string) (string, error) {
	name, err := validatePlayerName(username)
	if err != nil {
		return "", err
	}
	key := strings.ToLower(name)
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, uuidLookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+url.PathEscape(name), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lookup request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uuid lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read lookup response: %w", err)
	}

	// playerdb answers unknown names with a non-200 status and a JSON code
	if code := gjson.GetBytes(body, "code").String(); code != "player.found" {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("uuid lookup failed with status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrPlayerNotFound, name)
	}

	id, err := normalizeUUID(gjson.GetBytes(body, "data.player.id").String())
	if err != nil {
		return "", err
	}
	r.cache.Set(key, id, ttlcache.DefaultTTL)
	return id, nil
}
