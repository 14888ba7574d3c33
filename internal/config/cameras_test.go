package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadCameras(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "b-garden.yaml"), `
camera:
  id: garden
  name: Garden
  comment: back yard
  live: rtsp://10.0.0.2/stream
  width: 1920
  height: 1080
  ptz: true
  playback: true
`)
	writeFile(t, filepath.Join(dir, "a-door.yml"), `
camera:
  id: door
  name: Door
  live: rtsp://10.0.0.3/stream
  width: 640
  height: 480
`)
	writeFile(t, filepath.Join(dir, "README.txt"), "not a camera")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	cameras, err := LoadCameras(dir)
	if err != nil {
		t.Fatalf("LoadCameras failed: %v", err)
	}

	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
	if cameras[0].ID != "door" || cameras[1].ID != "garden" {
		t.Errorf("Expected file name order [door garden], got [%s %s]", cameras[0].ID, cameras[1].ID)
	}

	garden := cameras[1]
	if !garden.PTZ || !garden.Playback {
		t.Error("Expected garden to be PTZ capable with playback")
	}
	if garden.Width != 1920 || garden.Height != 1080 {
		t.Errorf("Unexpected size %dx%d", garden.Width, garden.Height)
	}
	if garden.Comment != "back yard" {
		t.Errorf("Expected comment 'back yard', got '%s'", garden.Comment)
	}
	if cameras[0].PTZ {
		t.Error("Expected door to default to no PTZ")
	}
}

func TestLoadCamerasInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "camera:\n  name: x\n  width: 1\n  height: 1\n"},
		{"zero width", "camera:\n  id: x\n  width: 0\n  height: 1\n"},
		{"bad yaml", "camera: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "cam.yaml"), tt.content)
			if _, err := LoadCameras(dir); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadCamerasMissingDir(t *testing.T) {
	if _, err := LoadCameras("/nonexistent/cameras.d"); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan string, 4)

	w, err := NewWatcher(func(path string) { changed <- path }, dir)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "new.yaml")
	writeFile(t, path, "camera: {}")

	select {
	case got := <-changed:
		if got != path {
			t.Errorf("Expected change for %s, got %s", path, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for change notification")
	}
}

func TestWatcherCloseWaitsForNotice(t *testing.T) {
	dir := t.TempDir()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var calls int32

	w, err := NewWatcher(func(path string) {
		atomic.AddInt32(&calls, 1)
		once.Do(func() { close(entered) })
		<-release
	}, dir)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "cam.yaml"), "camera: {}")

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for change notification")
	}

	closed := make(chan struct{})
	go func() {
		_ = w.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a notice was still being delivered")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}

	n := atomic.LoadInt32(&calls)
	writeFile(t, filepath.Join(dir, "late.yaml"), "camera: {}")
	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != n {
		t.Errorf("Expected no notices after Close, got %d more", got-n)
	}
}

