// ABOUTME: Viper-backed renderer settings with a change serial
// ABOUTME: Device selection, bitstreaming and DSP toggles read live
package settings

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"
)

// Store holds live renderer settings. Every mutation bumps a serial
// number so the renderer can cheaply detect that the device session it
// holds was negotiated against stale settings.
type Store struct {
	mu     sync.RWMutex
	v      *viper.Viper
	serial atomic.Uint32
}

// New creates a store with defaults applied.
func New() *Store {
	v := viper.New()
	setDefaults(v)
	s := &Store{v: v}
	s.serial.Store(1)
	return s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.name", "")
	v.SetDefault("device.exclusive", false)
	v.SetDefault("device.buffer_ms", 200)
	v.SetDefault("bitstreaming.allow", false)
	v.SetDefault("crossfeed.enabled", false)
	v.SetDefault("crossfeed.level", 0.3)
	v.SetDefault("limiter.enabled", true)
	v.SetDefault("dither.enabled", true)
	v.SetDefault("loglevel", "info")
}

// Load merges a config file into the store and bumps the serial.
// A missing file is not an error; defaults stay in effect.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file found", "path", path)
			return nil
		}
		return err
	}
	s.serial.Add(1)
	return nil
}

// Serial returns the current settings serial. It only ever advances.
func (s *Store) Serial() uint32 {
	return s.serial.Load()
}

// OutputDevice returns the selected device name (empty means the
// system default) and whether exclusive mode is requested.
func (s *Store) OutputDevice() (name string, exclusive bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString("device.name"), s.v.GetBool("device.exclusive")
}

// SetOutputDevice selects an output device.
func (s *Store) SetOutputDevice(name string, exclusive bool) {
	s.set(map[string]any{"device.name": name, "device.exclusive": exclusive})
}

// DeviceBufferMillis returns the requested hardware buffer length.
func (s *Store) DeviceBufferMillis() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt("device.buffer_ms")
}

// AllowBitstreaming reports whether compressed passthrough is allowed.
func (s *Store) AllowBitstreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool("bitstreaming.allow")
}

// SetAllowBitstreaming toggles compressed passthrough.
func (s *Store) SetAllowBitstreaming(allow bool) {
	s.set(map[string]any{"bitstreaming.allow": allow})
}

// CrossfeedEnabled reports whether the headphone crossfeed stage runs.
func (s *Store) CrossfeedEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool("crossfeed.enabled")
}

// CrossfeedLevel returns the crossfeed mix level in [0, 1].
func (s *Store) CrossfeedLevel() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetFloat64("crossfeed.level")
}

// SetCrossfeed toggles the crossfeed stage.
func (s *Store) SetCrossfeed(enabled bool, level float64) {
	s.set(map[string]any{"crossfeed.enabled": enabled, "crossfeed.level": level})
}

// LimiterEnabled reports whether the peak limiter stage runs.
func (s *Store) LimiterEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool("limiter.enabled")
}

// SetLimiter toggles the peak limiter.
func (s *Store) SetLimiter(enabled bool) {
	s.set(map[string]any{"limiter.enabled": enabled})
}

// DitherEnabled reports whether dithered quantization runs.
func (s *Store) DitherEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool("dither.enabled")
}

// SetDither toggles dithered quantization.
func (s *Store) SetDither(enabled bool) {
	s.set(map[string]any{"dither.enabled": enabled})
}

// LogLevel returns the configured log level name.
func (s *Store) LogLevel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString("loglevel")
}

func (s *Store) set(kv map[string]any) {
	s.mu.Lock()
	for k, val := range kv {
		s.v.Set(k, val)
	}
	s.mu.Unlock()
	s.serial.Add(1)
}
