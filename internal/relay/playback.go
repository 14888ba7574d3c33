package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eneverre/eneverre/internal/config"
)

const (
	listPath       = "/list"
	getPath        = "/get/"
	playbackFormat = "mp4"

	// maxErrorBody caps how much of a failed relay response is kept
	maxErrorBody = 4 * 1024
)

var (
	// ErrDisabled means no relay server is configured
	ErrDisabled = errors.New("relay integration is not configured")
	// ErrPlaybackDisabled means the camera is unknown or has no playback
	ErrPlaybackDisabled = errors.New("playback is not enabled for this camera")
	// ErrMissingParameter means a required playback parameter was empty
	ErrMissingParameter = errors.New("missing required parameter")
)

// Operation names used in errors and metrics
const (
	OpList = "list"
	OpGet  = "get"
)

// UpstreamError describes a failed call to the relay.
// Status is zero when the relay could not be reached.
type UpstreamError struct {
	Op      string
	Status  int
	Body    string
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("relay %s timed out", e.Op)
	case e.Status != 0:
		return fmt.Sprintf("relay %s returned %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("relay %s unreachable: %v", e.Op, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Response is a relay response relayed verbatim to the caller.
// The caller must close Body.
type Response struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
}

// CameraLookup reports whether playback is enabled for a camera.
// Unknown cameras report false.
type CameraLookup interface {
	PlaybackEnabled(id string) bool
}

// Observer receives the outcome of each relay call
type Observer interface {
	ObserveRelay(op, outcome string, elapsed time.Duration)
}

// Proxy forwards playback requests to the relay with the provisioned credential
type Proxy struct {
	cfg        config.RelayConfig
	cred       *Credential
	cameras    CameraLookup
	listClient *http.Client
	getClient  *http.Client
	observer   Observer
	logger     *slog.Logger
}

// NewProxy creates a playback proxy. A nil credential disables every call.
func NewProxy(cfg config.RelayConfig, cred *Credential, cameras CameraLookup) *Proxy {
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Proxy{
		cfg:        cfg,
		cred:       cred,
		cameras:    cameras,
		listClient: &http.Client{Transport: tr, Timeout: cfg.ListTimeout},
		getClient:  &http.Client{Transport: tr, Timeout: cfg.GetTimeout},
		logger:     slog.Default().With("component", "playback-proxy"),
	}
}

// SetObserver attaches a metrics observer
func (p *Proxy) SetObserver(o Observer) {
	p.observer = o
}

// Enabled reports whether the relay integration is active
func (p *Proxy) Enabled() bool {
	return p.cred != nil
}

// ListRecordings asks the relay for the recordings of a camera.
// The listing endpoint is reached over the local address.
func (p *Proxy) ListRecordings(ctx context.Context, cameraID string) (*Response, error) {
	if err := p.check(cameraID); err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme:   "http",
		Host:     p.cfg.ListAddress,
		Path:     listPath,
		RawQuery: url.Values{"path": {cameraID}}.Encode(),
	}
	return p.do(ctx, p.listClient, OpList, u.String())
}

// GetRecording fetches a recording slice from the relay's public playback
// endpoint. start and duration are passed through untouched.
func (p *Proxy) GetRecording(ctx context.Context, cameraID, start, duration string) (*Response, error) {
	// unknown or disabled cameras answer not-found whatever the query
	if err := p.check(cameraID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(start) == "" {
		return nil, fmt.Errorf("%w: start", ErrMissingParameter)
	}
	if strings.TrimSpace(duration) == "" {
		return nil, fmt.Errorf("%w: duration", ErrMissingParameter)
	}

	q := url.Values{}
	q.Set("path", cameraID)
	q.Set("start", start)
	q.Set("duration", duration)
	q.Set("format", playbackFormat)

	u := url.URL{
		Scheme:   p.cfg.PlaybackScheme,
		Host:     net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.PlaybackPort)),
		Path:     getPath,
		RawQuery: q.Encode(),
	}
	return p.do(ctx, p.getClient, OpGet, u.String())
}

func (p *Proxy) check(cameraID string) error {
	if p.cred == nil {
		return ErrDisabled
	}
	if p.cameras == nil || !p.cameras.PlaybackEnabled(cameraID) {
		return ErrPlaybackDisabled
	}
	return nil
}

func (p *Proxy) do(ctx context.Context, client *http.Client, op, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.SetBasicAuth(p.cred.Username(), p.cred.Password())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		uerr := &UpstreamError{Op: op, Err: err, Timeout: isTimeout(err)}
		p.observe(op, outcomeOf(uerr), start)
		p.logger.Warn("Relay request failed", "op", op, "error", uerr)
		return nil, uerr
	}

	if failedStatus(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		uerr := &UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		p.observe(op, outcomeOf(uerr), start)
		p.logger.Warn("Relay returned failure", "op", op, "status", resp.StatusCode)
		return nil, uerr
	}

	p.observe(op, "ok", start)
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

func (p *Proxy) observe(op, outcome string, start time.Time) {
	if p.observer != nil {
		p.observer.ObserveRelay(op, outcome, time.Since(start))
	}
}

// failedStatus reports relay statuses that are failures of the link itself.
// Anything else, including "no recordings" answers, is relayed verbatim.
func failedStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status >= 500
}

func outcomeOf(err *UpstreamError) string {
	switch {
	case err.Timeout:
		return "timeout"
	case err.Status != 0:
		return "error"
	default:
		return "unreachable"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
