// ABOUTME: Renderer orchestrator: state machine, device lifecycle, DSP
// ABOUTME: Composes timing correction, clock slaving and the push loop
package renderer

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cadence-Audio/cadence-go/internal/clock"
	"github.com/Cadence-Audio/cadence-go/internal/device"
	"github.com/Cadence-Audio/cadence-go/internal/dsp"
	"github.com/Cadence-Audio/cadence-go/internal/settings"
	"github.com/Cadence-Audio/cadence-go/internal/timing"
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// State is the renderer lifecycle state.
type State int

const (
	StateStopped State = iota
	StatePaused
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// Tuning constants. The exact values are empirical; their relative
// ordering (hard reset >> discontinuity >> clock nudge >> poll
// granularity) is what matters.
const (
	clockNudgeThreshold  = 100 * time.Microsecond
	rateCorrectThreshold = 2 * time.Millisecond
	pushSleep            = 50 * time.Millisecond
	deviceLossGrace      = 20 * time.Millisecond
	minDrainWait         = time.Millisecond
)

// Renderer is the streaming core. A control actor drives the state
// machine and format; a streaming actor calls Enqueue and Finish per
// sample. One lock guards all mutable state; the only waits are the
// bounded, flush-cancellable sleeps in the push and drain loops, which
// happen with the lock released.
type Renderer struct {
	mu sync.Mutex

	devices *device.Manager
	clk     *clock.Clock
	set     *settings.Store
	log     *slog.Logger

	flush        *Event
	bufferFilled *Event

	state         State
	inputFormat   *audio.Format
	session       *device.Session
	correction    *timing.Correction
	chain         *dsp.Chain
	externalClock bool
	graph         clock.Reference

	rate              float64
	startTime         time.Duration
	startClockOffset  time.Duration
	pushedFrames      int64
	correctedWithRate time.Duration

	volumeBits  atomic.Uint64
	balanceBits atomic.Uint64
}

// New creates a renderer. All three collaborators are required;
// missing ones are a fatal construction error.
func New(devices *device.Manager, clk *clock.Clock, set *settings.Store) (*Renderer, error) {
	if devices == nil {
		return nil, fmt.Errorf("renderer: nil device manager")
	}
	if clk == nil {
		return nil, fmt.Errorf("renderer: nil clock")
	}
	if set == nil {
		return nil, fmt.Errorf("renderer: nil settings")
	}

	r := &Renderer{
		devices:      devices,
		clk:          clk,
		set:          set,
		log:          slog.Default(),
		flush:        NewEvent(),
		bufferFilled: NewEvent(),
		correction:   timing.New(),
		rate:         1.0,
	}
	r.chain = dsp.NewChain(r.gain)
	r.volumeBits.Store(math.Float64bits(1.0))
	r.balanceBits.Store(math.Float64bits(0.0))
	return r, nil
}

// gain feeds the volume stage. Lock-free so the DSP chain can read it
// while the renderer lock is held.
func (r *Renderer) gain() (volume, balance float64) {
	return math.Float64frombits(r.volumeBits.Load()),
		math.Float64frombits(r.balanceBits.Load())
}

// SetVolume sets software volume in [0, 1].
func (r *Renderer) SetVolume(v float64) {
	r.volumeBits.Store(math.Float64bits(clamp(v, 0, 1)))
}

// Volume returns the current software volume.
func (r *Renderer) Volume() float64 {
	return math.Float64frombits(r.volumeBits.Load())
}

// SetBalance sets stereo balance in [-1, 1].
func (r *Renderer) SetBalance(b float64) {
	r.balanceBits.Store(math.Float64bits(clamp(b, -1, 1)))
}

// Balance returns the current stereo balance.
func (r *Renderer) Balance() float64 {
	return math.Float64frombits(r.balanceBits.Load())
}

// SetClock selects the timeline. A nil reference slaves the timeline
// to the renderer's own audio-derived clock; a non-nil reference makes
// that clock the master and drift is absorbed in the rate stage.
// Switching modes rebuilds the device session because the rate stage
// is configured differently per mode.
func (r *Renderer) SetClock(ref clock.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()

	external := ref != nil
	if external == r.externalClock {
		r.graph = ref
		return
	}
	r.externalClock = external
	r.graph = ref
	r.clearDeviceLocked()
}

// OnExternalClock reports whether an external timeline drives playback.
func (r *Renderer) OnExternalClock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.externalClock
}

// Enqueue corrects, processes and pushes one timestamped sample
// buffer. Returns false only when a flush interrupted delivery.
func (r *Renderer) Enqueue(data []byte, start, stop time.Duration) bool {
	var chunk audio.Chunk

	func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.inputFormat == nil {
			panic("renderer: Enqueue before SetFormat")
		}
		if r.state == StateStopped {
			panic("renderer: Enqueue while stopped")
		}

		r.checkDeviceSettingsLocked()

		if r.session == nil {
			r.createDeviceLocked()
		}

		chunk = r.correction.Process(data, start, stop)

		if r.session != nil && r.state == StateRunning {
			if offset := r.correction.TimingsError() - r.clk.SlavedClockOffset(); absDur(offset) > clockNudgeThreshold {
				r.clk.OffsetSlavedClock(offset)
			}

			if r.externalClock && !r.session.Bitstream {
				r.adjustRateToGraphLocked()
			}
		}

		if r.session != nil && !r.session.Bitstream {
			err := r.chain.Process(&chunk)
			if err == nil {
				err = chunk.Convert(r.session.Format)
			}
			if err != nil {
				// Degraded mode: drop this chunk, tear the session down
				// and keep the pipeline running.
				r.log.Warn("processing failed, dropping chunk", "err", err)
				r.clearDeviceLocked()
				chunk = audio.Chunk{}
			}
		}
	}()

	return r.push(chunk)
}

// adjustRateToGraphLocked feeds external-clock drift into the rate
// stage, accumulating what has already been handed over so the next
// comparison does not double-count it.
func (r *Renderer) adjustRateToGraphLocked() {
	if !r.chain.RateActive() {
		return
	}
	myStart, err := r.clk.AudioClockStartTime()
	if err != nil {
		return
	}
	myTime, err := r.clk.AudioClockTime()
	if err != nil || myTime <= myStart {
		return
	}
	graphTime, err := r.graph.Now()
	if err != nil {
		return
	}
	offset := graphTime - myTime - r.correctedWithRate
	if absDur(offset) > rateCorrectThreshold {
		r.chain.AdjustRate(offset)
		r.correctedWithRate += offset
	}
}

// Finish drains the DSP chain's buffered tail and pushes it. With
// blockUntilEnd it additionally waits until the hardware consumed
// everything, a stalled device looks finished, or a flush fires.
// Returns false when interrupted by a flush.
func (r *Renderer) Finish(blockUntilEnd bool) bool {
	var chunk audio.Chunk

	func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.state == StateStopped {
			panic("renderer: Finish while stopped")
		}

		if r.session == nil {
			blockUntilEnd = false
		}

		if r.session != nil && !r.session.Bitstream {
			err := r.chain.Finish(&chunk)
			if err == nil {
				err = chunk.Convert(r.session.Format)
			}
			if err != nil {
				r.log.Warn("finish processing failed", "err", err)
				chunk = audio.Chunk{}
			}
		}
	}()

	if !r.push(chunk) {
		return false
	}
	if !blockUntilEnd {
		return true
	}
	return r.blockUntilDrained()
}

// blockUntilDrained waits until the device clock catches up with the
// pushed-frame total. Two equal consecutive position readings while
// running mean the hardware stalled; that counts as drained rather
// than hanging forever.
func (r *Renderer) blockUntilDrained() bool {
	r.clk.UnslaveFromAudio()

	previous := time.Duration(-1)
	for {
		var actual, target time.Duration

		stop := func() bool {
			r.mu.Lock()
			defer r.mu.Unlock()

			if r.session == nil {
				return true
			}

			freq, err := r.session.ClockFrequency()
			if err != nil {
				r.clearDeviceLocked()
				return true
			}
			pos, err := r.session.ClockPosition()
			if err != nil {
				r.clearDeviceLocked()
				return true
			}

			actual = clock.TicksDuration(pos, freq)
			target = r.session.Format.FramesDuration(r.pushedFrames)

			if actual == target {
				return true
			}
			if actual == previous && r.state == StateRunning {
				return true
			}
			previous = actual
			return false
		}()
		if stop {
			return true
		}

		wait := target - actual
		if wait < minDrainWait {
			wait = minDrainWait
		}
		if r.flush.Wait(wait) {
			return false
		}
	}
}

// BeginFlush raises the flush signal, interrupting any in-progress
// push or drain wait.
func (r *Renderer) BeginFlush() {
	r.flush.Set()
}

// EndFlush clears the flush signal, resets the hardware buffer and
// zeroes the pushed-frame counter. Only legal while not running.
func (r *Renderer) EndFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		panic("renderer: EndFlush while running")
	}

	if r.session != nil {
		if err := r.session.Backend.Reset(); err != nil {
			r.log.Warn("device reset failed", "err", err)
			r.clearDeviceLocked()
		} else {
			r.bufferFilled.Reset()
		}
	}

	r.flush.Reset()
	r.pushedFrames = 0
}

// CheckFormat reports whether a format can be rendered under current
// settings.
func (r *Renderer) CheckFormat(f audio.Format) bool {
	if !f.Bitstream {
		return f.Valid()
	}

	name, exclusive := r.set.OutputDevice()
	_ = name
	if !exclusive || !r.set.AllowBitstreaming() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.BitstreamSupported(f, r.set)
}

// SetFormat declares the input format, resets timing correction and
// clears any session so the next audio renegotiates the device.
func (r *Renderer) SetFormat(f audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inputFormat = &f
	r.correction.SetFormat(f)
	r.clearDeviceLocked()
}

// NewSegment starts a new timeline segment at the given playback rate.
func (r *Renderer) NewSegment(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rate <= 0 {
		panic("renderer: non-positive playback rate")
	}

	r.startClockOffset = 0
	r.rate = rate
	r.correction.NewSegment(rate)

	if r.inputFormat == nil {
		panic("renderer: NewSegment before SetFormat")
	}
	if r.session != nil {
		r.initializeProcessorsLocked()
	}
}

// Play transitions to running and starts the device session.
func (r *Renderer) Play(startTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		panic("renderer: Play while already running")
	}
	r.state = StateRunning
	r.startTime = startTime
	r.startDeviceLocked()
}

// Pause stops the device and detaches the clock; the session and its
// queued audio survive.
func (r *Renderer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StatePaused

	if r.session != nil {
		r.clk.UnslaveFromAudio()
		if err := r.session.Backend.Stop(); err != nil {
			r.log.Warn("device stop failed", "err", err)
			r.clearDeviceLocked()
		}
	}
}

// Stop transitions to stopped and tears the session down.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateStopped
	r.clearDeviceLocked()
}

// CurrentState returns the lifecycle state.
func (r *Renderer) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// InputFormat returns the declared input format.
func (r *Renderer) InputFormat() (audio.Format, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inputFormat == nil {
		return audio.Format{}, false
	}
	return *r.inputFormat, true
}

// AudioDevice returns the live session, or nil.
func (r *Renderer) AudioDevice() *device.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// PushedFrames returns the frames written to the current session since
// its creation or the last flush.
func (r *Renderer) PushedFrames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushedFrames
}

// BufferFilled returns the signal raised whenever a write leaves the
// device buffer completely full.
func (r *Renderer) BufferFilled() *Event {
	return r.bufferFilled
}

// ActiveProcessors returns the names of DSP stages that would run for
// the current session. Empty for bitstream sessions.
func (r *Renderer) ActiveProcessors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inputFormat == nil || r.session == nil || r.session.Bitstream {
		return nil
	}
	return r.chain.ActiveNames()
}

// CheckDeviceSettings adopts compatible settings changes in place and
// clears the session for incompatible ones.
func (r *Renderer) CheckDeviceSettings() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkDeviceSettingsLocked()
}

func (r *Renderer) checkDeviceSettingsLocked() {
	serial := r.set.Serial()
	if r.session == nil || r.session.SettingsSerial == serial {
		return
	}

	name, exclusive := r.set.OutputDevice()
	incompatible := r.session.Exclusive != exclusive ||
		(name != "" && name != r.session.FriendlyName) ||
		(name == "" && !r.session.Default)
	if incompatible {
		r.log.Info("device settings changed incompatibly, clearing session")
		r.clearDeviceLocked()
		return
	}
	r.session.SettingsSerial = serial
}

func (r *Renderer) startDeviceLocked() {
	if r.state != StateRunning {
		panic("renderer: startDevice outside running state")
	}
	if r.session == nil {
		return
	}

	if err := r.clk.SlaveToAudio(r.session, r.startTime+r.startClockOffset); err != nil {
		r.log.Warn("clock slaving failed", "err", err)
		r.clearDeviceLocked()
		return
	}
	r.startClockOffset = 0
	if err := r.session.Backend.Start(); err != nil {
		r.log.Warn("device start failed", "err", err)
		r.clearDeviceLocked()
	}
}

func (r *Renderer) createDeviceLocked() {
	if r.session != nil {
		panic("renderer: createDevice with live session")
	}
	if r.inputFormat == nil {
		panic("renderer: createDevice before SetFormat")
	}

	r.session = r.devices.CreateSession(*r.inputFormat, r.set)
	if r.session == nil {
		return
	}

	r.initializeProcessorsLocked()

	// Seed the start offset so audio already in flight is not
	// re-delayed by the fresh session.
	r.startClockOffset = r.correction.LastFrameEnd()

	if r.state == StateRunning {
		r.startDeviceLocked()
	}
}

func (r *Renderer) clearDeviceLocked() {
	if r.session != nil {
		r.clk.UnslaveFromAudio()
		if err := r.session.Backend.Stop(); err != nil {
			r.log.Debug("device stop during teardown failed", "err", err)
		}
		r.bufferFilled.Reset()
	}

	r.session = nil
	r.devices.ReleaseSession()
	r.pushedFrames = 0
}

func (r *Renderer) initializeProcessorsLocked() {
	if r.inputFormat == nil || r.session == nil {
		panic("renderer: initializeProcessors without format or session")
	}

	r.correctedWithRate = 0

	if r.session.Bitstream {
		return
	}

	r.chain.Initialize(dsp.Config{
		Input:         *r.inputFormat,
		Output:        r.session.Format,
		Exclusive:     r.session.Exclusive,
		PlaybackRate:  r.rate,
		ExternalClock: r.externalClock,
		Settings:      r.set,
	})
}

// graphTimeLocked returns the active timeline's current time.
func (r *Renderer) graphTimeLocked() (time.Duration, error) {
	if r.externalClock && r.graph != nil {
		return r.graph.Now()
	}
	return r.clk.Now()
}

// push drains the chunk into the device buffer with backpressure.
// Returns false only when a flush interrupted the wait; device loss
// degrades to dropping the undelivered tail once the timeline says it
// would have finished playing anyway.
func (r *Renderer) push(chunk audio.Chunk) bool {
	if chunk.Empty() {
		return true
	}

	frames := chunk.Frames()
	frameSize := chunk.Format().BytesPerFrame()
	if frameSize == 0 {
		// Opaque bitstream payload: byte-granular delivery.
		frameSize = 1
	}
	data := chunk.Bytes()

	done := 0
	first := true
	for done < frames {
		// The device buffer is full or nearly full on every iteration
		// after the first; sleep until it has meaningful free space,
		// unless a flush interrupts.
		if !first && r.flush.Wait(pushSleep) {
			return false
		}
		first = false

		if r.writeOnce(data, frameSize, frames, &done) {
			break
		}
	}
	return true
}

// writeOnce performs one locked push iteration. Returns true when the
// loop should stop early (device gone and tail expired).
func (r *Renderer) writeOnce(data []byte, frameSize, frames int, done *int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateStopped {
		panic("renderer: push while stopped")
	}

	if r.session != nil {
		ok := func() bool {
			bufferFrames, err := r.session.Backend.BufferFrames()
			if err != nil {
				return false
			}
			padding, err := r.session.Backend.Padding()
			if err != nil {
				return false
			}

			free := int(bufferFrames) - int(padding)
			do := frames - *done
			if do > free {
				do = free
			}
			if do <= 0 {
				return true
			}

			if err := r.session.Backend.Write(data[*done*frameSize : (*done+do)*frameSize]); err != nil {
				return false
			}

			if int(padding)+do == int(bufferFrames) {
				r.bufferFilled.Set()
			} else {
				r.bufferFilled.Reset()
			}

			*done += do
			r.pushedFrames += int64(do)
			return true
		}()
		if ok {
			return false
		}
		// Recoverable hardware failure: treat as device loss.
		r.log.Warn("device write failed, clearing session")
		r.clearDeviceLocked()
	}

	// No device. Unblock waiters, and once the timeline has moved past
	// the end of what we were asked to deliver, give up on the tail.
	r.bufferFilled.Set()
	if r.state == StateRunning {
		if now, err := r.graphTimeLocked(); err == nil &&
			now+deviceLossGrace > r.startTime+r.correction.LastFrameEnd() {
			return true
		}
	}
	return false
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
