package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eneverre/eneverre/internal/config"
)

type mockLookup map[string]bool

func (m mockLookup) PlaybackEnabled(id string) bool {
	return m[id]
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveRelay(op, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, op+":"+outcome)
}

// newRelayServer starts a fake relay and returns a config pointing both
// the listing and public playback addresses at it.
func newRelayServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, config.RelayConfig, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	cfg := config.RelayConfig{
		Host:           host,
		PlaybackScheme: "http",
		PlaybackPort:   port,
		ListAddress:    u.Host,
		ListTimeout:    time.Second,
		GetTimeout:     time.Second,
	}
	return srv, cfg, &calls
}

func TestListRecordings(t *testing.T) {
	cred := NewCredential("relayUsr", "relayPw1")
	_, cfg, calls := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "relayUsr" || pass != "relayPw1" {
			t.Errorf("Expected provisioned credential, got %q/%q", user, pass)
		}
		if r.URL.Path != "/list" {
			t.Errorf("Expected /list, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("path") != "cam1" {
			t.Errorf("Expected path=cam1, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"start":"2024-01-01T00:00:00Z","duration":60}]`)
	})

	p := NewProxy(cfg, cred, mockLookup{"cam1": true})
	obs := &recordingObserver{}
	p.SetObserver(obs)

	resp, err := p.ListRecordings(context.Background(), "cam1")
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.Status != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.Status)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("Expected application/json, got %s", resp.ContentType)
	}
	if string(body) != `[{"start":"2024-01-01T00:00:00Z","duration":60}]` {
		t.Errorf("Body not relayed verbatim: %s", body)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("Expected 1 relay call, got %d", *calls)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "list:ok" {
		t.Errorf("Unexpected observations: %v", obs.outcomes)
	}
}

func TestGetRecording(t *testing.T) {
	cred := NewCredential("relayUsr", "relayPw1")
	_, cfg, _ := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get/" {
			t.Errorf("Expected /get/, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("path") != "cam1" || q.Get("start") != "2024-01-01T10:00:00Z" ||
			q.Get("duration") != "30" || q.Get("format") != "mp4" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("Expected basic auth")
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	})

	p := NewProxy(cfg, cred, mockLookup{"cam1": true})
	resp, err := p.GetRecording(context.Background(), "cam1", "2024-01-01T10:00:00Z", "30")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "mp4-bytes" || resp.ContentType != "video/mp4" {
		t.Errorf("Unexpected response %q (%s)", body, resp.ContentType)
	}
}

func TestGetRecordingMissingParameters(t *testing.T) {
	_, cfg, calls := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {})
	p := NewProxy(cfg, NewCredential("relayUsr", "relayPw1"), mockLookup{"cam1": true})

	tests := []struct {
		name     string
		start    string
		duration string
	}{
		{"no start", "", "30"},
		{"no duration", "2024-01-01T10:00:00Z", ""},
		{"neither", "", ""},
		{"blank start", "  ", "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.GetRecording(context.Background(), "cam1", tt.start, tt.duration)
			if !errors.Is(err, ErrMissingParameter) {
				t.Errorf("Expected ErrMissingParameter, got %v", err)
			}
		})
	}

	if n := atomic.LoadInt32(calls); n != 0 {
		t.Errorf("Expected no relay calls, got %d", n)
	}
}

func TestPlaybackNotAvailable(t *testing.T) {
	_, cfg, calls := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {})

	disabled := NewProxy(cfg, nil, mockLookup{"cam1": true})
	if disabled.Enabled() {
		t.Error("Proxy without credential must report disabled")
	}
	if _, err := disabled.ListRecordings(context.Background(), "cam1"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}

	p := NewProxy(cfg, NewCredential("relayUsr", "relayPw1"), mockLookup{"cam1": true, "cam2": false})
	for _, id := range []string{"cam2", "unknown"} {
		if _, err := p.ListRecordings(context.Background(), id); !errors.Is(err, ErrPlaybackDisabled) {
			t.Errorf("list %s: expected ErrPlaybackDisabled, got %v", id, err)
		}
		if _, err := p.GetRecording(context.Background(), id, "s", "d"); !errors.Is(err, ErrPlaybackDisabled) {
			t.Errorf("get %s: expected ErrPlaybackDisabled, got %v", id, err)
		}
		// availability is decided before the query is looked at
		if _, err := p.GetRecording(context.Background(), id, "", ""); !errors.Is(err, ErrPlaybackDisabled) {
			t.Errorf("get %s without parameters: expected ErrPlaybackDisabled, got %v", id, err)
		}
	}
	if _, err := disabled.GetRecording(context.Background(), "cam1", "", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled before parameter checks, got %v", err)
	}

	if n := atomic.LoadInt32(calls); n != 0 {
		t.Errorf("Expected no relay calls, got %d", n)
	}
}

func TestRelayStatusHandling(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantUpCode  int
		wantRelayed int
	}{
		{"not found relayed", http.StatusNotFound, false, 0, http.StatusNotFound},
		{"bad request relayed", http.StatusBadRequest, false, 0, http.StatusBadRequest},
		{"unauthorized is failure", http.StatusUnauthorized, true, http.StatusUnauthorized, 0},
		{"forbidden is failure", http.StatusForbidden, true, http.StatusForbidden, 0},
		{"server error is failure", http.StatusInternalServerError, true, http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cfg, _ := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "relay says no")
			})
			p := NewProxy(cfg, NewCredential("relayUsr", "relayPw1"), mockLookup{"cam1": true})

			resp, err := p.ListRecordings(context.Background(), "cam1")
			if tt.wantErr {
				var uerr *UpstreamError
				if !errors.As(err, &uerr) {
					t.Fatalf("Expected UpstreamError, got %v", err)
				}
				if uerr.Status != tt.wantUpCode {
					t.Errorf("Expected status %d, got %d", tt.wantUpCode, uerr.Status)
				}
				if uerr.Body != "relay says no" {
					t.Errorf("Expected relay body to be kept, got %q", uerr.Body)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.Status != tt.wantRelayed || string(body) != "relay says no" {
				t.Errorf("Expected verbatim %d, got %d %q", tt.wantRelayed, resp.Status, body)
			}
		})
	}
}

func TestRelayUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := config.RelayConfig{Host: "127.0.0.1", ListAddress: addr, ListTimeout: time.Second, GetTimeout: time.Second}
	p := NewProxy(cfg, NewCredential("relayUsr", "relayPw1"), mockLookup{"cam1": true})

	_, err = p.ListRecordings(context.Background(), "cam1")
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if uerr.Status != 0 || uerr.Timeout {
		t.Errorf("Expected unreachable error, got %+v", uerr)
	}
}

func TestRelayTimeout(t *testing.T) {
	release := make(chan struct{})
	_, cfg, _ := newRelayServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	cfg.ListTimeout = 50 * time.Millisecond

	p := NewProxy(cfg, NewCredential("relayUsr", "relayPw1"), mockLookup{"cam1": true})
	obs := &recordingObserver{}
	p.SetObserver(obs)

	_, err := p.ListRecordings(context.Background(), "cam1")
	var uerr *UpstreamError
	if !errors.As(err, &uerr) || !uerr.Timeout {
		t.Fatalf("Expected timeout UpstreamError, got %v", err)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "list:timeout" {
		t.Errorf("Unexpected observations: %v", obs.outcomes)
	}
}
