// Package events defines control events and their audit store
package events

import (
	"time"
)

// Kind is the control operation that produced an event
type Kind string

const (
	KindPTZ     Kind = "ptz"
	KindPrivacy Kind = "privacy"
)

// Bus subjects
const (
	SubjectCameraPrefix = "cameras"
	SubjectAllCameras   = "cameras.>"
	SubjectConfigChange = "config.changed"
)

// ControlEvent records one call to the control agent
type ControlEvent struct {
	ID        string    `json:"id"`
	CameraID  string    `json:"camera_id"`
	Kind      Kind      `json:"kind"`
	Action    string    `json:"action"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the bus subject the event is published on
func (e ControlEvent) Subject() string {
	return SubjectCameraPrefix + "." + e.CameraID + "." + string(e.Kind)
}

// ConfigChange is published when a watched config file changes
type ConfigChange struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// ListOptions filters audit queries
type ListOptions struct {
	CameraID string
	Limit    int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)
