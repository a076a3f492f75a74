// ABOUTME: Live output backend using the oto library
// ABOUTME: Models the hardware ring buffer and clock over oto's player
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// oto allows one context per process; it is created once and reused
// for the lifetime of the process.
var (
	otoOnce     sync.Once
	otoCtx      *oto.Context
	otoCtxRate  int
	otoCtxChans int
	otoErr      error
)

// OtoBackend plays through the system mixer via oto. It keeps its own
// bounded frame queue which oto's player drains; the queue fill is the
// reported padding and the drained count is the hardware clock.
type OtoBackend struct {
	mu sync.Mutex

	format   audio.Format
	capacity uint32

	queue    []byte
	consumed uint64 // frames handed to oto since Reset
	posBase  uint64
	running  bool
	closed   bool

	player *oto.Player
}

// OtoFactory is a device.Factory over oto. Bitstream formats cannot be
// forwarded through a software mixer.
func OtoFactory(name string, format audio.Format, bufferFrames int) (Backend, audio.Format, error) {
	if format.Bitstream {
		return nil, audio.Format{}, fmt.Errorf("oto: bitstream output not supported")
	}
	// oto is 16-bit only; the dither stage upstream already targets it.
	format.Encoding = audio.EncodingPCM16

	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("oto: context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoCtxRate = format.SampleRate
		otoCtxChans = format.Channels
	})
	if otoErr != nil {
		return nil, audio.Format{}, otoErr
	}
	if otoCtxRate != format.SampleRate || otoCtxChans != format.Channels {
		// oto cannot be reinitialized; the established context wins.
		slog.Warn("oto context format mismatch, keeping established format",
			"want", format.SampleRate, "have", otoCtxRate)
		format.SampleRate = otoCtxRate
		format.Channels = otoCtxChans
		format.ChannelMask = audio.DefaultChannelMask(format.Channels)
	}

	if bufferFrames <= 0 {
		bufferFrames = format.SampleRate / 5 // 200 ms
	}
	b := &OtoBackend{
		format:   format,
		capacity: uint32(bufferFrames),
	}
	b.player = otoCtx.NewPlayer(otoReader{b})
	return b, format, nil
}

func (b *OtoBackend) BufferFrames() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrDeviceLost
	}
	return b.capacity, nil
}

func (b *OtoBackend) Padding() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrDeviceLost
	}
	return uint32(len(b.queue) / b.format.BytesPerFrame()), nil
}

func (b *OtoBackend) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}
	frameSize := b.format.BytesPerFrame()
	if (len(b.queue)+len(data))/frameSize > int(b.capacity) {
		return fmt.Errorf("oto: write exceeds buffer capacity")
	}
	b.queue = append(b.queue, data...)
	return nil
}

func (b *OtoBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}
	b.running = true
	b.player.Play()
	return nil
}

func (b *OtoBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}
	b.running = false
	b.player.Pause()
	return nil
}

func (b *OtoBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}
	b.queue = nil
	b.posBase = b.consumed
	return nil
}

func (b *OtoBackend) ClockFrequency() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrDeviceLost
	}
	return uint64(b.format.SampleRate), nil
}

func (b *OtoBackend) ClockPosition() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrDeviceLost
	}
	return b.consumed - b.posBase, nil
}

func (b *OtoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.running = false
	// The shared oto context stays alive; only this player goes away.
	return b.player.Close()
}

// otoReader feeds oto's pull model from the backend queue, emitting
// silence on underrun like real hardware.
type otoReader struct {
	b *OtoBackend
}

func (r otoReader) Read(p []byte) (int, error) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("oto: backend closed")
	}
	frameSize := b.format.BytesPerFrame()
	// Only hand out whole frames.
	want := len(p) / frameSize * frameSize
	if want == 0 {
		return 0, nil
	}
	n := copy(p[:want], b.queue)
	n = n / frameSize * frameSize
	b.queue = b.queue[n:]
	b.consumed += uint64(n / frameSize)

	// Underrun: pad with silence rather than starving the player.
	for i := n; i < want; i++ {
		p[i] = 0
	}
	return want, nil
}
