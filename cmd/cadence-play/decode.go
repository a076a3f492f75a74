// ABOUTME: File decoders feeding the player: wav, mp3 and flac
// ABOUTME: Each source yields interleaved little-endian PCM frames
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// source is a decoded audio file. Read returns up to frames frames of
// PCM in the source's format and io.EOF when the file is exhausted.
type source interface {
	Format() audio.Format
	Read(frames int) ([]byte, error)
	Close() error
}

// openSource picks a decoder by file extension.
func openSource(path string) (source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return openWav(path)
	case ".mp3":
		return openMP3(path)
	case ".flac":
		return openFLAC(path)
	}
	return nil, fmt.Errorf("unsupported file type: %s", path)
}

func pcmFormat(rate, channels int, enc audio.Encoding) audio.Format {
	return audio.Format{
		SampleRate:  rate,
		Channels:    channels,
		ChannelMask: audio.DefaultChannelMask(channels),
		Encoding:    enc,
	}
}

// wav

type wavSource struct {
	f      *os.File
	dec    *wav.Decoder
	format audio.Format
	shift  uint
}

func openWav(path string) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}

	var enc audio.Encoding
	var shift uint
	switch dec.BitDepth {
	case 16:
		enc = audio.EncodingPCM16
	case 24:
		enc = audio.EncodingPCM24
	case 32:
		enc = audio.EncodingPCM32
	case 8:
		// Widen to 16 bits on read.
		enc = audio.EncodingPCM16
		shift = 8
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}

	return &wavSource{
		f:      f,
		dec:    dec,
		format: pcmFormat(int(dec.SampleRate), int(dec.NumChans), enc),
		shift:  shift,
	}, nil
}

func (s *wavSource) Format() audio.Format { return s.format }

func (s *wavSource) Read(frames int) ([]byte, error) {
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: s.format.Channels,
			SampleRate:  s.format.SampleRate,
		},
		Data: make([]int, frames*s.format.Channels),
	}
	n, err := s.dec.PCMBuffer(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}

	width := s.format.Encoding.BytesPerSample()
	out := make([]byte, n*width)
	for i := 0; i < n; i++ {
		putSample(out[i*width:], int32(buf.Data[i])<<s.shift, width)
	}
	var eof error
	if n < len(buf.Data) {
		eof = io.EOF
	}
	return out, eof
}

func (s *wavSource) Close() error { return s.f.Close() }

// mp3

type mp3Source struct {
	f      *os.File
	dec    *mp3.Decoder
	format audio.Format
}

func openMP3(path string) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	// go-mp3 always emits 16-bit stereo at the file's sample rate.
	return &mp3Source{
		f:      f,
		dec:    dec,
		format: pcmFormat(dec.SampleRate(), 2, audio.EncodingPCM16),
	}, nil
}

func (s *mp3Source) Format() audio.Format { return s.format }

func (s *mp3Source) Read(frames int) ([]byte, error) {
	out := make([]byte, frames*s.format.BytesPerFrame())
	n, err := io.ReadFull(s.dec, out)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if n == 0 {
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// Whole frames only.
	n -= n % s.format.BytesPerFrame()
	return out[:n], err
}

func (s *mp3Source) Close() error { return s.f.Close() }

// flac

type flacSource struct {
	f       *os.File
	stream  *flac.Stream
	format  audio.Format
	pending []byte
	done    bool
}

func openFLAC(path string) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flac decode: %w", err)
	}

	var enc audio.Encoding
	switch stream.Info.BitsPerSample {
	case 16:
		enc = audio.EncodingPCM16
	case 24:
		enc = audio.EncodingPCM24
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported flac bit depth %d", stream.Info.BitsPerSample)
	}

	return &flacSource{
		f:      f,
		stream: stream,
		format: pcmFormat(int(stream.Info.SampleRate), int(stream.Info.NChannels), enc),
	}, nil
}

func (s *flacSource) Format() audio.Format { return s.format }

func (s *flacSource) Read(frames int) ([]byte, error) {
	want := frames * s.format.BytesPerFrame()

	for len(s.pending) < want && !s.done {
		fr, err := s.stream.ParseNext()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac frame: %w", err)
		}

		width := s.format.Encoding.BytesPerSample()
		block := len(fr.Subframes[0].Samples)
		buf := make([]byte, block*s.format.Channels*width)
		for i := 0; i < block; i++ {
			for ch := 0; ch < s.format.Channels; ch++ {
				putSample(buf[(i*s.format.Channels+ch)*width:], fr.Subframes[ch].Samples[i], width)
			}
		}
		s.pending = append(s.pending, buf...)
	}

	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	n := want
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	if s.done && len(s.pending) == 0 {
		return out, io.EOF
	}
	return out, nil
}

func (s *flacSource) Close() error { return s.f.Close() }

// putSample writes one little-endian sample of the given byte width.
func putSample(dst []byte, v int32, width int) {
	switch width {
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
	case 3:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	}
}
