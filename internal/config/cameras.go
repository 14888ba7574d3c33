package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CameraConfig holds one camera descriptor as written on disk
type CameraConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Comment  string `yaml:"comment"`
	Live     string `yaml:"live"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	PTZ      bool   `yaml:"ptz"`
	Playback bool   `yaml:"playback"`
}

// cameraFile is the on-disk layout of a descriptor file
type cameraFile struct {
	Camera CameraConfig `yaml:"camera"`
}

// LoadCameras reads every descriptor file in dir.
// Files are read in lexical name order so the result order is stable.
func LoadCameras(dir string) ([]CameraConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	cameras := make([]CameraConfig, 0, len(names))
	for _, name := range names {
		cam, err := LoadCamera(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}

	return cameras, nil
}

// LoadCamera reads a single descriptor file
func LoadCamera(path string) (CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CameraConfig{}, fmt.Errorf("failed to read camera file %s: %w", path, err)
	}

	var f cameraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return CameraConfig{}, fmt.Errorf("failed to parse camera file %s: %w", path, err)
	}

	if err := f.Camera.validate(); err != nil {
		return CameraConfig{}, fmt.Errorf("invalid camera file %s: %w", path, err)
	}

	return f.Camera, nil
}

func (c CameraConfig) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("camera.id is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be positive")
	}
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
