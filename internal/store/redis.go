package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/pipeline"
)

// RedisStore keeps the shared per-device state: containment, tags, activity,
// live position and API keys.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func containmentKey(deviceID string) string { return fmt.Sprintf("geofence:%s", deviceID) }

// Get returns when deviceID entered zone, or nil when it is outside.
func (r *RedisStore) Get(ctx context.Context, deviceID, zone string) (*time.Time, error) {
	val, err := r.client.HGet(ctx, containmentKey(deviceID), zone).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis containment get failed: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt containment entry %s/%s: %w", deviceID, zone, err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func (r *RedisStore) Set(ctx context.Context, deviceID, zone string, insideSince *time.Time) error {
	var err error
	if insideSince == nil {
		err = r.client.HDel(ctx, containmentKey(deviceID), zone).Err()
	} else {
		err = r.client.HSet(ctx, containmentKey(deviceID), zone, insideSince.UnixMilli()).Err()
	}
	if err != nil {
		return fmt.Errorf("redis containment set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) DeviceTags(ctx context.Context, deviceID string) ([]string, error) {
	return r.members(ctx, fmt.Sprintf("device:%s:tags", deviceID))
}

func (r *RedisStore) LoginTags(ctx context.Context, loginID string) ([]string, error) {
	return r.members(ctx, fmt.Sprintf("login:%s:tags", loginID))
}

func (r *RedisStore) members(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s failed: %w", key, err)
	}
	return vals, nil
}

// CurrentActivity returns the raw activity value the device last stored, or nil
// when none is known.
func (r *RedisStore) CurrentActivity(ctx context.Context, deviceID string) (any, error) {
	val, err := r.client.Get(ctx, fmt.Sprintf("device:%s:activity", deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get activity failed: %w", err)
	}
	return val, nil
}

const fleetGeoKey = "fleet:geo"

// UpdatePosition writes the live state hash, moves the device in the fleet geo
// set and publishes the position for dashboards.
func (r *RedisStore) UpdatePosition(ctx context.Context, u pipeline.PositionUpdate) error {
	p := u.Sample
	stateData := map[string]interface{}{
		"device_id":   u.DeviceID,
		"lat":         p.Latitude,
		"lng":         p.Longitude,
		"altitude":    p.Altitude,
		"accuracy":    p.Accuracy,
		"heading":     p.Heading,
		"speed_kmh":   p.SpeedKmh(),
		"captured_at": p.CapturedAt.Unix(),
		"received_at": u.ReceivedAt.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("device:%s:state", u.DeviceID)
	pubChannel := fmt.Sprintf("device:%s:position", u.DeviceID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, 30*time.Second)
	pipe.GeoAdd(ctx, fleetGeoKey, &redis.GeoLocation{
		Name:      u.DeviceID,
		Longitude: p.Longitude,
		Latitude:  p.Latitude,
	})
	pipe.Publish(ctx, pubChannel, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishEvent publishes ev as JSON on the device's event channel.
func (r *RedisStore) PublishEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, EventChannel(ev.DeviceID), payload).Err()
}

func EventChannel(deviceID string) string { return fmt.Sprintf("device:%s:events", deviceID) }

// RequestGPS stores the location request the device should apply and notifies
// it on its command channel.
func (r *RedisStore) RequestGPS(ctx context.Context, deviceID string, req config.GPSRequest) error {
	fields := map[string]interface{}{
		"timeout_ms":              req.Timeout.Milliseconds(),
		"maximum_age_ms":          req.MaximumAge.Milliseconds(),
		"high_accuracy":           req.HighAccuracy != nil && *req.HighAccuracy,
		"distance_filter":         req.DistanceFilter,
		"use_significant_changes": req.UseSignificantChanges != nil && *req.UseSignificantChanges,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, fmt.Sprintf("device:%s:gps", deviceID), fields)
	pipe.Publish(ctx, CommandChannel(deviceID), `{"kind":"request-gps"}`)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis gps request failed: %w", err)
	}
	return nil
}

// GetAPIKey returns the device id registered for apiKey, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
