// ABOUTME: Output device sessions and their single-owner lifecycle
// ABOUTME: Negotiates a native format and wraps a hardware backend
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Cadence-Audio/cadence-go/internal/settings"
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// ErrDeviceLost marks recoverable hardware failures; the renderer
// responds by tearing down the session and carrying on without it.
var ErrDeviceLost = errors.New("device: lost")

// Backend is one opened hardware output. Implementations expose the
// ring buffer, transport controls and the hardware clock.
type Backend interface {
	// BufferFrames returns the fixed buffer capacity.
	BufferFrames() (uint32, error)
	// Padding returns how many queued frames the hardware has not
	// consumed yet.
	Padding() (uint32, error)
	// Write queues whole frames. The caller never writes more than
	// BufferFrames() - Padding().
	Write(data []byte) error

	Start() error
	Stop() error
	Reset() error

	// Hardware clock: tick frequency and position since Start.
	ClockFrequency() (uint64, error)
	ClockPosition() (uint64, error)

	Close() error
}

// Factory opens a backend for a negotiated format. It may adjust the
// encoding to what the hardware actually supports and must return the
// format it settled on.
type Factory func(name string, format audio.Format, bufferFrames int) (Backend, audio.Format, error)

// Session represents one opened output device. Exclusively owned by
// the renderer; at most one exists at a time.
type Session struct {
	ID             uuid.UUID
	Format         audio.Format // device-native format
	Exclusive      bool
	Bitstream      bool
	SettingsSerial uint32
	FriendlyName   string
	Default        bool
	Backend        Backend
}

// ClockFrequency forwards the backend clock so a Session satisfies
// the renderer clock's Hardware interface.
func (s *Session) ClockFrequency() (uint64, error) { return s.Backend.ClockFrequency() }

// ClockPosition forwards the backend clock position.
func (s *Session) ClockPosition() (uint64, error) { return s.Backend.ClockPosition() }

// Manager creates and releases device sessions.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	session *Session
	log     *slog.Logger
}

// NewManager creates a manager that opens backends via factory.
func NewManager(factory Factory) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("device: nil backend factory")
	}
	return &Manager{factory: factory, log: slog.Default()}, nil
}

// CreateSession negotiates a native format for the input and opens a
// backend. Returns nil (no error) when the device cannot be opened;
// the renderer keeps running deviceless and retries later.
func (m *Manager) CreateSession(input audio.Format, set *settings.Store) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		// Single-session invariant.
		m.releaseLocked()
	}

	name, exclusive := set.OutputDevice()
	serial := set.Serial()
	bufferFrames := set.DeviceBufferMillis() * input.SampleRate / 1000

	want, bitstream := negotiate(input, exclusive, set.AllowBitstreaming())
	if !want.Valid() {
		m.log.Warn("no usable device format", "input", input.Encoding.String())
		return nil
	}

	backend, got, err := m.factory(name, want, bufferFrames)
	if err != nil {
		m.log.Warn("device open failed", "device", name, "err", err)
		return nil
	}

	m.session = &Session{
		ID:             uuid.New(),
		Format:         got,
		Exclusive:      exclusive,
		Bitstream:      bitstream,
		SettingsSerial: serial,
		FriendlyName:   name,
		Default:        name == "",
		Backend:        backend,
	}
	m.log.Info("device session created",
		"id", m.session.ID,
		"rate", got.SampleRate,
		"channels", got.Channels,
		"encoding", got.Encoding.String(),
		"exclusive", exclusive,
		"bitstream", bitstream)
	return m.session
}

// ReleaseSession closes the current session, if any.
func (m *Manager) ReleaseSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	if m.session == nil {
		return
	}
	if err := m.session.Backend.Close(); err != nil {
		m.log.Warn("backend close failed", "err", err)
	}
	m.session = nil
}

// BitstreamSupported reports whether a compressed format could be
// forwarded unmodified under the current settings.
func (m *Manager) BitstreamSupported(f audio.Format, set *settings.Store) bool {
	if !f.Bitstream {
		return false
	}
	_, exclusive := set.OutputDevice()
	return exclusive && set.AllowBitstreaming()
}

// negotiate picks the device-native format for an input format.
func negotiate(input audio.Format, exclusive, allowBitstreaming bool) (audio.Format, bool) {
	if input.Bitstream {
		if !exclusive || !allowBitstreaming {
			return audio.Format{}, false
		}
		return input, true
	}

	out := audio.Format{
		SampleRate: input.SampleRate,
		Channels:   input.Channels,
		Encoding:   audio.EncodingPCM16,
	}
	if exclusive {
		out.Encoding = audio.EncodingPCM24
	}
	if out.Channels > 2 {
		// Consumer endpoints are stereo; surround folds down in the
		// matrix stage.
		out.Channels = 2
	}
	out.ChannelMask = audio.DefaultChannelMask(out.Channels)
	return out, false
}
