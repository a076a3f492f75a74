// ABOUTME: High-level renderer API assembling the streaming core
// ABOUTME: Simple facade over device, clock, settings and renderer
package cadence

import (
	"fmt"
	"time"

	"github.com/Cadence-Audio/cadence-go/internal/clock"
	"github.com/Cadence-Audio/cadence-go/internal/device"
	"github.com/Cadence-Audio/cadence-go/internal/renderer"
	"github.com/Cadence-Audio/cadence-go/internal/settings"
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Config holds renderer configuration.
type Config struct {
	// ConfigFile is an optional settings file (yaml/toml/json). Missing
	// files are ignored and defaults apply.
	ConfigFile string

	// WavPath, when set, renders offline into a wav file instead of a
	// live output device.
	WavPath string

	// Device selects the output device by name. Empty means the system
	// default.
	Device string

	// Exclusive requests exclusive access to the device.
	Exclusive bool

	// Volume is the initial software volume in [0, 1]. Zero means 1.
	Volume float64
}

// Renderer is a timestamped-audio renderer. Feed it buffers with
// Enqueue and it takes care of timing correction, clock drift, DSP and
// device delivery.
type Renderer struct {
	core *renderer.Renderer
	set  *settings.Store
}

// NewRenderer assembles a renderer from the configuration.
func NewRenderer(cfg Config) (*Renderer, error) {
	set := settings.New()
	if cfg.ConfigFile != "" {
		if err := set.Load(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("cadence: load config: %w", err)
		}
	}
	if cfg.Device != "" || cfg.Exclusive {
		set.SetOutputDevice(cfg.Device, cfg.Exclusive)
	}

	var factory device.Factory = device.OtoFactory
	if cfg.WavPath != "" {
		factory = device.WavFactory(cfg.WavPath)
	}
	devices, err := device.NewManager(factory)
	if err != nil {
		return nil, fmt.Errorf("cadence: %w", err)
	}

	core, err := renderer.New(devices, clock.New(nil), set)
	if err != nil {
		return nil, fmt.Errorf("cadence: %w", err)
	}
	if cfg.Volume > 0 {
		core.SetVolume(cfg.Volume)
	}
	return &Renderer{core: core, set: set}, nil
}

// Settings exposes the live settings store.
func (r *Renderer) Settings() *settings.Store { return r.set }

// CheckFormat reports whether a format can be rendered under current
// settings.
func (r *Renderer) CheckFormat(f audio.Format) bool { return r.core.CheckFormat(f) }

// SetFormat declares the input format. Must be called before Enqueue.
func (r *Renderer) SetFormat(f audio.Format) error {
	if !f.Bitstream && !f.Valid() {
		return fmt.Errorf("cadence: invalid format %+v", f)
	}
	r.core.SetFormat(f)
	return nil
}

// NewSegment opens a new timeline segment at the given playback rate.
func (r *Renderer) NewSegment(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("cadence: playback rate %v out of range", rate)
	}
	r.core.NewSegment(rate)
	return nil
}

// Play starts playback with the stream positioned at startTime.
func (r *Renderer) Play(startTime time.Duration) { r.core.Play(startTime) }

// Pause pauses playback. Queued audio is kept.
func (r *Renderer) Pause() { r.core.Pause() }

// Stop ends playback and releases the output device.
func (r *Renderer) Stop() { r.core.Stop() }

// Enqueue delivers one timestamped buffer of input-format audio. It
// blocks while the device buffer is full and returns false only when a
// flush interrupted delivery.
func (r *Renderer) Enqueue(data []byte, start, stop time.Duration) bool {
	return r.core.Enqueue(data, start, stop)
}

// Finish flushes buffered processing tails. With wait it blocks until
// the device has played everything.
func (r *Renderer) Finish(wait bool) bool { return r.core.Finish(wait) }

// Flush discards queued audio. Playback must be paused or stopped.
func (r *Renderer) Flush() {
	r.core.BeginFlush()
	r.core.EndFlush()
}

// Reference is an external source of stream time, such as a video
// graph's master clock.
type Reference interface {
	Now() (time.Duration, error)
}

// SetClock makes an external reference the playback timeline. Pass nil
// to return to the internal audio-derived clock.
func (r *Renderer) SetClock(ref Reference) {
	if ref == nil {
		r.core.SetClock(nil)
		return
	}
	r.core.SetClock(ref)
}

// SetVolume sets software volume in [0, 1].
func (r *Renderer) SetVolume(v float64) { r.core.SetVolume(v) }

// SetBalance sets stereo balance in [-1, 1].
func (r *Renderer) SetBalance(b float64) { r.core.SetBalance(b) }

// Status reports the renderer's current state.
func (r *Renderer) Status() Status {
	s := Status{
		State:  r.core.CurrentState().String(),
		Volume: r.core.Volume(),
		Frames: r.core.PushedFrames(),
		Stages: r.core.ActiveProcessors(),
	}
	if f, ok := r.core.InputFormat(); ok {
		s.SampleRate = f.SampleRate
		s.Channels = f.Channels
	}
	if dev := r.core.AudioDevice(); dev != nil {
		s.Device = dev.FriendlyName
		s.Exclusive = dev.Exclusive
		s.Bitstream = dev.Bitstream
	}
	return s
}

// Status describes the renderer for display purposes.
type Status struct {
	State      string
	SampleRate int
	Channels   int
	Volume     float64
	Frames     int64
	Device     string
	Exclusive  bool
	Bitstream  bool
	Stages     []string
}

// Close stops playback and releases all resources.
func (r *Renderer) Close() error {
	r.core.BeginFlush()
	r.core.Stop()
	return nil
}
