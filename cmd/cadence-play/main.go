// ABOUTME: Entry point for the cadence-play file player
// ABOUTME: Decodes an audio file and renders it through the core
package main

import (
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cadence-Audio/cadence-go/internal/logging"
	"github.com/Cadence-Audio/cadence-go/pkg/cadence"
)

var (
	configFile = flag.String("config", "", "Settings file (yaml/toml/json)")
	deviceName = flag.String("device", "", "Output device name (default: system default)")
	exclusive  = flag.Bool("exclusive", false, "Request exclusive device access")
	wavOut     = flag.String("wav", "", "Render offline into a wav file instead of playing")
	volume     = flag.Float64("volume", 1.0, "Software volume (0-1)")
	rate       = flag.Float64("rate", 1.0, "Playback rate")
	logLevel   = flag.String("loglevel", "", "Log level: none, error, warn, info, debug")
)

// chunkFrames is how much audio each enqueued buffer carries. Small
// enough that pause and flush stay responsive.
const chunkFrames = 4096

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: cadence-play [flags] <file.wav|file.mp3|file.flac>")
	}
	path := flag.Arg(0)

	r, err := cadence.NewRenderer(cadence.Config{
		ConfigFile: *configFile,
		WavPath:    *wavOut,
		Device:     *deviceName,
		Exclusive:  *exclusive,
		Volume:     *volume,
	})
	if err != nil {
		log.Fatalf("renderer setup failed: %v", err)
	}
	defer r.Close()

	level := *logLevel
	if level == "" {
		level = r.Settings().LogLevel()
	}
	if err := logging.Configure(level); err != nil {
		log.Fatalf("%v", err)
	}

	src, err := openSource(path)
	if err != nil {
		log.Fatalf("cannot open %s: %v", path, err)
	}
	defer src.Close()

	format := src.Format()
	slog.Info("playing",
		"file", path,
		"rate", format.SampleRate,
		"channels", format.Channels,
		"encoding", format.Encoding.String())

	if err := r.SetFormat(format); err != nil {
		log.Fatalf("%v", err)
	}
	if err := r.NewSegment(*rate); err != nil {
		log.Fatalf("%v", err)
	}
	r.Play(0)

	// A signal flushes the renderer, which unblocks any in-flight
	// Enqueue or Finish wait.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("interrupted, stopping")
		r.Pause()
		r.Flush()
		os.Exit(1)
	}()

	pos := time.Duration(0)
	for {
		data, err := src.Read(chunkFrames)
		if len(data) > 0 {
			frames := int64(len(data) / format.BytesPerFrame())
			end := pos + format.FramesDuration(frames)
			if !r.Enqueue(data, pos, end) {
				slog.Info("playback flushed")
				return
			}
			pos = end
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("decode failed: %v", err)
		}
	}

	if !r.Finish(true) {
		slog.Info("drain interrupted")
		return
	}

	status := r.Status()
	slog.Info("done", "frames", status.Frames, "stages", status.Stages)
	r.Stop()
}
