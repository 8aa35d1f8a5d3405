package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
)

// Decoder converts an upstream audio blob to 16 kHz mono float32 samples.
type Decoder interface {
	Decode(ctx context.Context, blob []byte) ([]float32, error)
}

// FFmpegDecoder shells out to ffmpeg. The pendant ships Ogg/Opus; ffmpeg
// also copes with the occasional blob missing its container magic.
type FFmpegDecoder struct {
	path string
}

func NewFFmpegDecoder(path string) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{path: path}
}

// CheckFFmpeg reports whether the ffmpeg binary is runnable. Call once at
// startup.
func (d *FFmpegDecoder) CheckFFmpeg() error {
	if _, err := exec.LookPath(d.path); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Decode runs ffmpeg blob→f32le. The output must be rank-1: raw f32le
// with -ac 1 is a flat mono sample array by construction; a byte count
// that is not a multiple of 4 means ffmpeg produced something else, which
// is a bug upstream and fails loudly.
func (d *FFmpegDecoder) Decode(ctx context.Context, blob []byte) ([]float32, error) {
	var out, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, d.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", "16000",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(blob)
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, errBuf.String())
	}

	raw := out.Bytes()
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("ffmpeg produced %d bytes, not a float32 mono stream", len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
