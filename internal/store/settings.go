// Package store holds the gateway's persistent state: listener settings,
// the live session registry, and the message archive.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"openhl7/gateway/internal/config"
)

// ErrInvalidSettings wraps every settings validation failure
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the listener bind address chosen by an operator
type Settings struct {
	IP   string `json:"ip" yaml:"ip"`
	Port int    `json:"port" yaml:"port"`
}

// DefaultSettings returns the listener defaults
func DefaultSettings() Settings {
	return Settings{IP: config.DefaultListenIP, Port: config.DefaultListenPort}
}

// Validate requires a dotted-quad IPv4 address and a port in 0..65535
func (s Settings) Validate() error {
	if !isIPv4(s.IP) {
		return fmt.Errorf("%w: ip %q is not an IPv4 address", ErrInvalidSettings, s.IP)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	return nil
}

func isIPv4(s string) bool {
	if strings.Count(s, ".") != 3 || strings.Contains(s, ":") {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// SettingsStore loads and saves listener settings
type SettingsStore interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// FileSettings keeps settings in a YAML file. A missing file yields the
// defaults.
type FileSettings struct {
	path string
	mu   sync.Mutex
}

// NewFileSettings creates a file-backed settings store
func NewFileSettings(path string) *FileSettings {
	return &FileSettings{path: path}
}

// Load implements SettingsStore
func (f *FileSettings) Load(_ context.Context) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", f.path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save implements SettingsStore. The file is replaced atomically.
func (f *FileSettings) Save(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
