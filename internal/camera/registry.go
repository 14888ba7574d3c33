// Package camera holds the in-memory camera registry
package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eneverre/eneverre/internal/config"
	"github.com/eneverre/eneverre/internal/relay"
)

var (
	ErrNotFound       = errors.New("camera not found")
	ErrPTZUnsupported = errors.New("camera does not support PTZ")
	ErrInvalidID      = errors.New("invalid camera id")
	ErrDuplicateID    = errors.New("duplicate camera id")
)

// LiveURLResolver computes the advertised live address of a camera
type LiveURLResolver interface {
	ResolveLive(cameraID, nativeURL string) (string, error)
	RelayBacked() bool
}

// Descriptor is a point-in-time view of a camera
type Descriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Comment  string `json:"comment"`
	Live     string `json:"live"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	PTZ      bool   `json:"ptz"`
	Privacy  bool   `json:"privacy"`
	Playback bool   `json:"playback"`
}

// Camera is a registered camera. Everything but the privacy flag is fixed
// at build time.
type Camera struct {
	desc    Descriptor
	privacy atomic.Bool

	// toggle serializes privacy changes so the flag always reflects the
	// last control call actually issued
	toggle sync.Mutex
}

// ID returns the camera id
func (c *Camera) ID() string { return c.desc.ID }

// PTZ reports whether the camera accepts PTZ commands
func (c *Camera) PTZ() bool { return c.desc.PTZ }

// Playback reports whether recordings can be fetched through the relay
func (c *Camera) Playback() bool { return c.desc.Playback }

// Privacy reports the current privacy flag
func (c *Camera) Privacy() bool { return c.privacy.Load() }

// Descriptor returns a snapshot of the camera
func (c *Camera) Descriptor() Descriptor {
	d := c.desc
	d.Privacy = c.privacy.Load()
	return d
}

// SetPrivacy runs apply and records the new flag only if apply succeeds.
// Concurrent calls for the same camera run one at a time. A nil apply
// updates the flag unconditionally.
func (c *Camera) SetPrivacy(enable bool, apply func() error) error {
	c.toggle.Lock()
	defer c.toggle.Unlock()

	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	c.privacy.Store(enable)
	return nil
}

// Registry is the fixed set of cameras known to the gateway
type Registry struct {
	cameras map[string]*Camera
	order   []string
}

// Build creates the registry from configured descriptors, keeping their
// order for listing. A nil resolver leaves native addresses untouched and
// disables playback.
func Build(cfgs []config.CameraConfig, resolver LiveURLResolver) (*Registry, error) {
	logger := slog.Default().With("component", "camera-registry")
	relayBacked := resolver != nil && resolver.RelayBacked()

	r := &Registry{
		cameras: make(map[string]*Camera, len(cfgs)),
		order:   make([]string, 0, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if !relay.ValidPathSegment(cfg.ID) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, cfg.ID)
		}
		if _, exists := r.cameras[cfg.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, cfg.ID)
		}

		live := cfg.Live
		if resolver != nil {
			var err error
			live, err = resolver.ResolveLive(cfg.ID, cfg.Live)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve live address for %s: %w", cfg.ID, err)
			}
		}

		r.cameras[cfg.ID] = &Camera{desc: Descriptor{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Comment:  cfg.Comment,
			Live:     live,
			Width:    cfg.Width,
			Height:   cfg.Height,
			PTZ:      cfg.PTZ,
			Playback: relayBacked && cfg.Playback,
		}}
		r.order = append(r.order, cfg.ID)
	}

	logger.Info("Camera registry built", "cameras", len(r.order), "relay", relayBacked)
	return r, nil
}

// List returns snapshots of all cameras in configuration order
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.cameras[id].Descriptor())
	}
	return out
}

// Get looks up a camera by id
func (r *Registry) Get(id string) (*Camera, error) {
	cam, ok := r.cameras[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cam, nil
}

// GetPTZ looks up a camera that must accept PTZ commands
func (r *Registry) GetPTZ(id string) (*Camera, error) {
	cam, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !cam.PTZ() {
		return nil, ErrPTZUnsupported
	}
	return cam, nil
}

// PlaybackEnabled reports whether id is known and has playback enabled
func (r *Registry) PlaybackEnabled(id string) bool {
	cam, ok := r.cameras[id]
	return ok && cam.Playback()
}

// Len returns the number of cameras
func (r *Registry) Len() int {
	return len(r.order)
}
