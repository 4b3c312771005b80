package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Video decodes a video file with ffmpeg into RGB frames.
type Video struct {
	path   string
	width  int
	height int
	step   int
	opts   options
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// OpenVideo probes path with ffprobe. Any failure to find a decodable video stream is
// reported as ErrOpen.
func OpenVideo(ctx context.Context, path string, step int, opts ...Option) (*Video, error) {
	o := buildOptions(opts)
	cmd := exec.CommandContext(ctx, o.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrOpen, path, err, strings.TrimSpace(stderr.String()))
	}
	w, h, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	return &Video{path: path, width: w, height: h, step: normStep(step), opts: o}, nil
}

func parseProbe(data []byte) (int, int, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return 0, 0, errors.New("no video stream")
	}
	s := p.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	return s.Width, s.Height, nil
}

// Width returns the frame width in pixels.
func (v *Video) Width() int { return v.width }

// Height returns the frame height in pixels.
func (v *Video) Height() int { return v.height }

// decodeArgs emits every decoded frame exactly once as raw RGB, with no frame-rate
// conversion, so frame indices count the frames stored in the file.
func decodeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-noautorotate",
		"-i", path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

// Frames starts a fresh ffmpeg decode and yields every step-th frame. Stopping the
// iteration early kills the decoder.
func (v *Video) Frames(ctx context.Context) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(runCtx, v.opts.ffmpegPath, decodeArgs(v.path)...)
		stderr := &limitedBuffer{limit: 4096}
		cmd.Stderr = stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(Sample{}, fmt.Errorf("%w: %s: %v", ErrOpen, v.path, err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(Sample{}, fmt.Errorf("%w: %s: %v", ErrOpen, v.path, err))
			return
		}

		stopped, scanErr := scanFrames(ctx, stdout, v.width, v.height, v.step, yield)
		if stopped || scanErr != nil {
			cancel()
			_ = cmd.Wait()
			if scanErr != nil {
				if ctx.Err() != nil {
					scanErr = ctx.Err()
				}
				yield(Sample{}, scanErr)
			}
			return
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				yield(Sample{}, ctx.Err())
				return
			}
			yield(Sample{}, fmt.Errorf("decode %s: %w: %s", v.path, err, stderr.String()))
			return
		}
		if msg := stderr.String(); msg != "" {
			v.opts.logger.Debug("ffmpeg output", zap.String("path", v.path), zap.String("stderr", msg))
		}
	}
}

// scanFrames reads packed rgb24 frames of w by h from r until EOF. It returns stopped
// when the consumer ended the iteration. A trailing partial frame is dropped.
func scanFrames(ctx context.Context, r io.Reader, w, h, step int, yield func(Sample, error) bool) (stopped bool, err error) {
	frameSize := w * h * 3
	buf := make([]byte, frameSize)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return false, nil
			}
			return false, fmt.Errorf("read frame %d: %w", idx, err)
		}
		if idx%step != 0 {
			continue
		}
		if !yield(Sample{Image: rgbToImage(buf, w, h), Index: idx}, nil) {
			return true, nil
		}
	}
}

func rgbToImage(rgb []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
