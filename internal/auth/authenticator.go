package auth

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/monitoring"
)

// KeyLookup resolves a device API key to the device it was issued for. An
// unknown key yields "" and no error.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

// AnyDevice is the identity of a static key: it may act for every device.
const AnyDevice = "*"

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	keys       KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
}

// NewAuthenticator builds an authenticator. keys may be nil when only static
// keys are accepted.
func NewAuthenticator(cfg *config.Config, keys KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		now:        time.Now,
	}
}

// Identify returns the device apiKey belongs to, AnyDevice for static keys, or
// ok=false when the key is not valid.
func (a *Authenticator) Identify(ctx context.Context, apiKey string) (deviceID string, ok bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return AnyDevice, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.deviceID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.keys == nil {
		return "", false
	}
	deviceID, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil {
		monitoring.Logf("api key lookup failed: %v", err)
		return "", false
	}
	if deviceID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		deviceID:  deviceID,
		expiresAt: a.now().Add(a.ttl),
	})
	return deviceID, true
}

// Authorize reports whether apiKey may act for deviceID. An empty deviceID
// means every device, which only static keys may do.
func (a *Authenticator) Authorize(ctx context.Context, apiKey, deviceID string) bool {
	id, ok := a.Identify(ctx, apiKey)
	if !ok {
		return false
	}
	return id == AnyDevice || (deviceID != "" && id == deviceID)
}
