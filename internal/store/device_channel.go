package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/pipeline"
)

// DeviceChannel drives the device UI through Redis: the current state lives in
// per-device keys and every change is announced on the device's command
// channel.
type DeviceChannel struct {
	client *redis.Client
}

func NewDeviceChannel(client *redis.Client) *DeviceChannel {
	return &DeviceChannel{client: client}
}

func CommandChannel(deviceID string) string { return fmt.Sprintf("device:%s:commands", deviceID) }

func urgentKey(deviceID string) string  { return fmt.Sprintf("device:%s:urgent", deviceID) }
func pageKey(deviceID string) string    { return fmt.Sprintf("device:%s:page", deviceID) }
func visibleKey(deviceID string) string { return fmt.Sprintf("device:%s:forms:visible", deviceID) }

type deviceCommand struct {
	Kind    string               `json:"kind"`
	Alert   *domain.Notification `json:"alert,omitempty"`
	FormID  string               `json:"form_id,omitempty"`
	TaskID  string               `json:"task_id,omitempty"`
	Visible *bool                `json:"visible,omitempty"`
}

func (c *DeviceChannel) announce(ctx context.Context, pipe redis.Pipeliner, deviceID string, cmd deviceCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal device command: %w", err)
	}
	pipe.Publish(ctx, CommandChannel(deviceID), payload)
	return nil
}

func (c *DeviceChannel) SetUrgent(ctx context.Context, deviceID string, n *domain.Notification) error {
	pipe := c.client.TxPipeline()
	if n == nil {
		pipe.Del(ctx, urgentKey(deviceID))
		if err := c.announce(ctx, pipe, deviceID, deviceCommand{Kind: "clear-alert"}); err != nil {
			return err
		}
	} else {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		pipe.Set(ctx, urgentKey(deviceID), payload, 0)
		if err := c.announce(ctx, pipe, deviceID, deviceCommand{Kind: "set-alert", Alert: n}); err != nil {
			return err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set urgent failed: %w", err)
	}
	return nil
}

func (c *DeviceChannel) Urgent(ctx context.Context, deviceID string) (*domain.Notification, error) {
	val, err := c.client.Get(ctx, urgentKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get urgent failed: %w", err)
	}
	var n domain.Notification
	if err := json.Unmarshal(val, &n); err != nil {
		return nil, fmt.Errorf("corrupt urgent notification for %s: %w", deviceID, err)
	}
	return &n, nil
}

func (c *DeviceChannel) Wake(ctx context.Context, deviceID string) error {
	return c.client.Publish(ctx, CommandChannel(deviceID), `{"kind":"wake"}`).Err()
}

func (c *DeviceChannel) CurrentPage(ctx context.Context, deviceID string) (string, error) {
	val, err := c.client.Get(ctx, pageKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get page failed: %w", err)
	}
	return val, nil
}

// OpenSubmit asks the device to open the submit page for a form or task. The
// page key is updated right away; the device overwrites it when the user leaves.
func (c *DeviceChannel) OpenSubmit(ctx context.Context, deviceID, formID, taskID string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, pageKey(deviceID), pipeline.SubmitPage, 0)
	if err := c.announce(ctx, pipe, deviceID, deviceCommand{Kind: "navigate", FormID: formID, TaskID: taskID}); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis open submit failed: %w", err)
	}
	return nil
}

func (c *DeviceChannel) FormVisible(ctx context.Context, deviceID, formID string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, visibleKey(deviceID), formID).Result()
	if err != nil {
		return false, fmt.Errorf("redis form visibility failed: %w", err)
	}
	return ok, nil
}

func (c *DeviceChannel) SetFormVisible(ctx context.Context, deviceID, formID string, visible bool) error {
	pipe := c.client.TxPipeline()
	if visible {
		pipe.SAdd(ctx, visibleKey(deviceID), formID)
	} else {
		pipe.SRem(ctx, visibleKey(deviceID), formID)
	}
	if err := c.announce(ctx, pipe, deviceID, deviceCommand{Kind: "form-visibility", FormID: formID, Visible: &visible}); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set form visibility failed: %w", err)
	}
	return nil
}
