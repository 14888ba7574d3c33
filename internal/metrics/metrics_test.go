package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eneverre/eneverre/internal/auth"
	"github.com/eneverre/eneverre/internal/control"
	"github.com/eneverre/eneverre/internal/relay"
)

// compile-time checks that Metrics plugs into every observer slot
var (
	_ relay.Observer   = (*Metrics)(nil)
	_ control.Observer = (*Metrics)(nil)
	_ auth.Observer    = (*Metrics)(nil)
)

func TestHandlerExposesObservations(t *testing.T) {
	m := New()
	m.ObserveRelay("list", "ok", 20*time.Millisecond)
	m.ObserveRelay("get", "timeout", time.Second)
	m.ObserveControl("ptz", "error", 5*time.Millisecond)
	m.ObserveAuth("authorized")
	m.SetCameras(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`eneverre_relay_requests_total{op="list",outcome="ok"} 1`,
		`eneverre_relay_requests_total{op="get",outcome="timeout"} 1`,
		`eneverre_control_calls_total{kind="ptz",outcome="error"} 1`,
		`eneverre_auth_callbacks_total{result="authorized"} 1`,
		`eneverre_cameras 3`,
		`go_goroutines`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in exposition", want)
		}
	}
}
