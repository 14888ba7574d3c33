package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/eneverre/eneverre/internal/camera"
	"github.com/eneverre/eneverre/internal/control"
	"github.com/eneverre/eneverre/internal/relay"
)

// writeError maps a domain error onto a status and error code. Unknown
// cameras and disabled features share one not-found answer so callers
// cannot probe the configuration.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var upstream *relay.UpstreamError
	var agentErr *control.AgentError

	switch {
	case errors.Is(err, camera.ErrNotFound):
		NotFound(w, "Camera not found")
	case errors.Is(err, camera.ErrPTZUnsupported):
		NotFound(w, "Camera does not support PTZ control")
	case errors.Is(err, relay.ErrDisabled), errors.Is(err, relay.ErrPlaybackDisabled):
		NotFound(w, "Playback not available")
	case errors.Is(err, relay.ErrMissingParameter),
		errors.Is(err, control.ErrInvalidAction),
		errors.Is(err, control.ErrInvalidArgument):
		BadRequest(w, err.Error())
	case errors.As(err, &upstream):
		if upstream.Timeout {
			GatewayTimeout(w, upstream.Error())
			return
		}
		BadGateway(w, upstream.Error())
	case errors.Is(err, control.ErrAgentTimeout):
		GatewayTimeout(w, err.Error())
	case errors.As(err, &agentErr):
		BadGateway(w, agentErr.Error())
	default:
		logger.Error("Unhandled API error", "error", err)
		InternalError(w, "Internal server error")
	}
}
