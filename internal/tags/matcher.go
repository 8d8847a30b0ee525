// Package tags decides which zones and rules apply to a device and its login.
package tags

import (
	"context"
	"fmt"
)

// Set is the union of the device's and the active login's tags.
type Set map[string]struct{}

func NewSet(groups ...[]string) Set {
	s := make(Set)
	for _, g := range groups {
		for _, t := range g {
			if t != "" {
				s[t] = struct{}{}
			}
		}
	}
	return s
}

func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Allows reports whether a rule with ruleTags applies. A rule without tags
// applies to everyone.
func (s Set) Allows(ruleTags []string) bool {
	if len(ruleTags) == 0 {
		return true
	}
	for _, t := range ruleTags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Matches reports whether ruleTags intersects deviceTags ∪ loginTags, or is empty.
// It is the one-shot form of NewSet(deviceTags, loginTags).Allows(ruleTags) for
// callers without a resolved Set; sessions resolve a Set once and reuse it.
func Matches(ruleTags, deviceTags, loginTags []string) bool {
	return NewSet(deviceTags, loginTags).Allows(ruleTags)
}

// Directory resolves the tags attached to devices and logins.
type Directory interface {
	DeviceTags(ctx context.Context, deviceID string) ([]string, error)
	LoginTags(ctx context.Context, loginID string) ([]string, error)
}

// Resolve builds the tag set for deviceID with loginID logged in. An empty
// loginID contributes no tags.
func Resolve(ctx context.Context, dir Directory, deviceID, loginID string) (Set, error) {
	device, err := dir.DeviceTags(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("device tags for %s: %w", deviceID, err)
	}
	var login []string
	if loginID != "" {
		login, err = dir.LoginTags(ctx, loginID)
		if err != nil {
			return nil, fmt.Errorf("login tags for %s: %w", loginID, err)
		}
	}
	return NewSet(device, login), nil
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	Devices map[string][]string
	Logins  map[string][]string
}

func (d StaticDirectory) DeviceTags(_ context.Context, deviceID string) ([]string, error) {
	return d.Devices[deviceID], nil
}

func (d StaticDirectory) LoginTags(_ context.Context, loginID string) ([]string, error) {
	return d.Logins[loginID], nil
}
