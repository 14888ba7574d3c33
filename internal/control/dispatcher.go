package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eneverre/eneverre/internal/camera"
	"github.com/eneverre/eneverre/internal/events"
)

var (
	// ErrInvalidAction is returned for PTZ actions outside the allowlist
	ErrInvalidAction = errors.New("unsupported PTZ action")
	// ErrInvalidArgument is returned for non-integer x/y values
	ErrInvalidArgument = errors.New("invalid PTZ argument")
)

// Privacy agent arguments
const (
	argPrivacy = "privacy"
	argHome    = "home"
)

// Publisher sends control events to the event bus
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Observer receives the outcome of each agent call
type Observer interface {
	ObserveControl(kind, outcome string, elapsed time.Duration)
}

// Dispatcher validates control requests and hands them to the agent
type Dispatcher struct {
	cameras   *camera.Registry
	agent     Agent
	actions   map[string]struct{}
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher accepting the given PTZ actions
func NewDispatcher(cameras *camera.Registry, agent Agent, actions []string) *Dispatcher {
	allowed := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		allowed[a] = struct{}{}
	}
	return &Dispatcher{
		cameras: cameras,
		agent:   agent,
		actions: allowed,
		logger:  slog.Default().With("component", "control-dispatcher"),
	}
}

// SetPublisher attaches the event bus
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.publisher = p
}

// SetObserver attaches a metrics observer
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// PTZ moves a camera. x and y are optional integers defaulting to 0.
// The agent's raw output is returned on success.
func (d *Dispatcher) PTZ(ctx context.Context, cameraID, action, x, y string) ([]byte, error) {
	cam, err := d.cameras.GetPTZ(cameraID)
	if err != nil {
		return nil, err
	}
	if _, ok := d.actions[action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	xv, err := parseCoordinate("x", x)
	if err != nil {
		return nil, err
	}
	yv, err := parseCoordinate("y", y)
	if err != nil {
		return nil, err
	}

	out, err := d.invoke(ctx, events.KindPTZ, cam.ID(), action, xv, yv,
		action, strconv.Itoa(xv), strconv.Itoa(yv))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Privacy sets the privacy flag of a camera. PTZ cameras are sent to the
// privacy position when enabling and home when disabling; other cameras
// only have their flag updated.
func (d *Dispatcher) Privacy(ctx context.Context, cameraID string, enable bool) (camera.Descriptor, error) {
	cam, err := d.cameras.Get(cameraID)
	if err != nil {
		return camera.Descriptor{}, err
	}

	var apply func() error
	if cam.PTZ() {
		arg := argHome
		if enable {
			arg = argPrivacy
		}
		apply = func() error {
			_, err := d.invoke(ctx, events.KindPrivacy, cam.ID(), arg, 0, 0, arg)
			return err
		}
	}

	if err := cam.SetPrivacy(enable, apply); err != nil {
		return camera.Descriptor{}, err
	}
	d.logger.Info("Privacy updated", "camera", cam.ID(), "enabled", enable)
	return cam.Descriptor(), nil
}

func (d *Dispatcher) invoke(ctx context.Context, kind events.Kind, cameraID, action string, x, y int, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := d.agent.Invoke(ctx, cameraID, args...)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrAgentTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	if d.observer != nil {
		d.observer.ObserveControl(string(kind), outcome, time.Since(start))
	}

	ev := events.ControlEvent{
		ID:        uuid.New().String(),
		CameraID:  cameraID,
		Kind:      kind,
		Action:    action,
		X:         x,
		Y:         y,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
		d.logger.Warn("Control command failed", "camera", cameraID, "kind", kind, "action", action, "error", err)
	}
	d.publish(ev)

	return out, err
}

func (d *Dispatcher) publish(ev events.ControlEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ev.Subject(), ev); err != nil {
		d.logger.Warn("Failed to publish control event", "camera", ev.CameraID, "error", err)
	}
}

func parseCoordinate(name, v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidArgument, name, v)
	}
	return n, nil
}
