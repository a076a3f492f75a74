// ABOUTME: Tests for device negotiation and session lifecycle
// ABOUTME: Uses a stub backend; no real audio hardware involved
package device

import (
	"fmt"
	"testing"

	"github.com/Cadence-Audio/cadence-go/internal/settings"
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

type stubBackend struct {
	closed int
}

func (b *stubBackend) BufferFrames() (uint32, error)   { return 4800, nil }
func (b *stubBackend) Padding() (uint32, error)        { return 0, nil }
func (b *stubBackend) Write(data []byte) error         { return nil }
func (b *stubBackend) Start() error                    { return nil }
func (b *stubBackend) Stop() error                     { return nil }
func (b *stubBackend) Reset() error                    { return nil }
func (b *stubBackend) ClockFrequency() (uint64, error) { return 48000, nil }
func (b *stubBackend) ClockPosition() (uint64, error)  { return 0, nil }
func (b *stubBackend) Close() error                    { b.closed++; return nil }

func stubFactory(backends *[]*stubBackend) Factory {
	return func(name string, format audio.Format, bufferFrames int) (Backend, audio.Format, error) {
		b := &stubBackend{}
		if backends != nil {
			*backends = append(*backends, b)
		}
		return b, format, nil
	}
}

func pcmInput(rate, channels int, enc audio.Encoding) audio.Format {
	return audio.Format{
		SampleRate:  rate,
		Channels:    channels,
		ChannelMask: audio.DefaultChannelMask(channels),
		Encoding:    enc,
	}
}

func TestNegotiateSharedIsPCM16(t *testing.T) {
	out, bitstream := negotiate(pcmInput(44100, 2, audio.EncodingFloat32), false, false)
	if bitstream {
		t.Error("pcm input negotiated as bitstream")
	}
	if out.Encoding != audio.EncodingPCM16 {
		t.Errorf("shared encoding %v", out.Encoding)
	}
	if out.SampleRate != 44100 || out.Channels != 2 {
		t.Errorf("format %+v", out)
	}
}

func TestNegotiateExclusiveIsPCM24(t *testing.T) {
	out, _ := negotiate(pcmInput(96000, 2, audio.EncodingPCM24), true, false)
	if out.Encoding != audio.EncodingPCM24 {
		t.Errorf("exclusive encoding %v", out.Encoding)
	}
}

func TestNegotiateFoldsSurroundToStereo(t *testing.T) {
	out, _ := negotiate(pcmInput(48000, 6, audio.EncodingPCM16), false, false)
	if out.Channels != 2 {
		t.Errorf("channels %d", out.Channels)
	}
	if out.ChannelMask != audio.DefaultChannelMask(2) {
		t.Errorf("mask %#x", out.ChannelMask)
	}
}

func TestNegotiateBitstreamRequiresExclusiveAndConsent(t *testing.T) {
	in := audio.Format{SampleRate: 48000, Channels: 2, Bitstream: true}

	if out, _ := negotiate(in, false, true); out.Valid() {
		t.Error("bitstream accepted in shared mode")
	}
	if out, _ := negotiate(in, true, false); out.Valid() {
		t.Error("bitstream accepted without consent")
	}
	out, bitstream := negotiate(in, true, true)
	if !bitstream || !out.Bitstream {
		t.Error("bitstream not passed through in exclusive mode with consent")
	}
}

func TestCreateSessionRecordsSettingsSerial(t *testing.T) {
	m, err := NewManager(stubFactory(nil))
	if err != nil {
		t.Fatal(err)
	}
	set := settings.New()
	set.SetOutputDevice("DAC", false)

	s := m.CreateSession(pcmInput(48000, 2, audio.EncodingPCM16), set)
	if s == nil {
		t.Fatal("no session")
	}
	if s.SettingsSerial != set.Serial() {
		t.Errorf("serial %d, settings at %d", s.SettingsSerial, set.Serial())
	}
	if s.FriendlyName != "DAC" || s.Default {
		t.Errorf("name %q default=%v", s.FriendlyName, s.Default)
	}
}

func TestCreateSessionReplacesExisting(t *testing.T) {
	var backends []*stubBackend
	m, err := NewManager(stubFactory(&backends))
	if err != nil {
		t.Fatal(err)
	}
	set := settings.New()
	in := pcmInput(48000, 2, audio.EncodingPCM16)

	first := m.CreateSession(in, set)
	second := m.CreateSession(in, set)
	if first == nil || second == nil {
		t.Fatal("session creation failed")
	}
	if first.ID == second.ID {
		t.Error("sessions share an identity")
	}
	if backends[0].closed != 1 {
		t.Error("first backend not closed when second session opened")
	}
	if backends[1].closed != 0 {
		t.Error("live backend closed")
	}
}

func TestCreateSessionFailureIsNotFatal(t *testing.T) {
	m, err := NewManager(func(name string, format audio.Format, bufferFrames int) (Backend, audio.Format, error) {
		return nil, audio.Format{}, fmt.Errorf("endpoint busy")
	})
	if err != nil {
		t.Fatal(err)
	}
	if s := m.CreateSession(pcmInput(48000, 2, audio.EncodingPCM16), settings.New()); s != nil {
		t.Error("session returned despite open failure")
	}
}

func TestNewManagerRejectsNilFactory(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Error("nil factory accepted")
	}
}

func TestBitstreamSupported(t *testing.T) {
	m, _ := NewManager(stubFactory(nil))
	set := settings.New()
	ac3 := audio.Format{SampleRate: 48000, Channels: 2, Bitstream: true}

	if m.BitstreamSupported(ac3, set) {
		t.Error("supported under default settings")
	}
	set.SetOutputDevice("", true)
	set.SetAllowBitstreaming(true)
	if !m.BitstreamSupported(ac3, set) {
		t.Error("not supported in exclusive mode with consent")
	}
	pcm := pcmInput(48000, 2, audio.EncodingPCM16)
	if m.BitstreamSupported(pcm, set) {
		t.Error("pcm reported as bitstream-capable")
	}
}
