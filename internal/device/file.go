// ABOUTME: Offline render backend writing frames to a wav file
// ABOUTME: Consumes instantly so the push loop never waits on it
package device

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// WavBackend renders to a wav file instead of hardware. Its buffer is
// one second of frames and frames are consumed the moment they are
// written, so the renderer pushes at full speed.
type WavBackend struct {
	mu sync.Mutex

	format  audio.Format
	file    *os.File
	enc     *wav.Encoder
	written uint64
	posBase uint64
	closed  bool
}

// WavFactory returns a device.Factory rendering into path.
func WavFactory(path string) Factory {
	return func(name string, format audio.Format, bufferFrames int) (Backend, audio.Format, error) {
		if format.Bitstream {
			return nil, audio.Format{}, fmt.Errorf("wav: bitstream output not supported")
		}
		format.Encoding = audio.EncodingPCM16

		f, err := os.Create(path)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("wav: create %s: %w", path, err)
		}
		enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
		return &WavBackend{format: format, file: f, enc: enc}, format, nil
	}
}

func (b *WavBackend) BufferFrames() (uint32, error) {
	if b.isClosed() {
		return 0, ErrDeviceLost
	}
	return uint32(b.format.SampleRate), nil
}

func (b *WavBackend) Padding() (uint32, error) {
	if b.isClosed() {
		return 0, ErrDeviceLost
	}
	return 0, nil
}

func (b *WavBackend) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}

	n := len(data) / 2
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: b.format.Channels,
			SampleRate:  b.format.SampleRate,
		},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := 0; i < n; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	if err := b.enc.Write(buf); err != nil {
		return fmt.Errorf("wav: write: %w", err)
	}
	b.written += uint64(n / b.format.Channels)
	return nil
}

func (b *WavBackend) Start() error { return b.ok() }
func (b *WavBackend) Stop() error  { return b.ok() }

func (b *WavBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceLost
	}
	b.posBase = b.written
	return nil
}

func (b *WavBackend) ClockFrequency() (uint64, error) {
	if b.isClosed() {
		return 0, ErrDeviceLost
	}
	return uint64(b.format.SampleRate), nil
}

func (b *WavBackend) ClockPosition() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrDeviceLost
	}
	return b.written - b.posBase, nil
}

func (b *WavBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.enc.Close(); err != nil {
		b.file.Close()
		return fmt.Errorf("wav: finalize: %w", err)
	}
	return b.file.Close()
}

func (b *WavBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *WavBackend) ok() error {
	if b.isClosed() {
		return ErrDeviceLost
	}
	return nil
}
