package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"strconv"
)

// ErrDeviceUnavailable is returned when the camera cannot be opened or read
var ErrDeviceUnavailable = errors.New("camera unavailable")

// Grabber captures a single still frame
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// FFmpegGrabber reads one raw RGB frame per Grab by running ffmpeg against
// the platform's capture device.
type FFmpegGrabber struct {
	width  int
	height int
	args   []string
}

// NewFFmpegGrabber checks that ffmpeg is installed and prepares the capture
// arguments. An empty device selects the platform default.
func NewFFmpegGrabber(device string, width, height int) (*FFmpegGrabber, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrDeviceUnavailable)
	}
	args, err := grabArgs(runtime.GOOS, device, width, height)
	if err != nil {
		return nil, err
	}
	return &FFmpegGrabber{width: width, height: height, args: args}, nil
}

func grabArgs(goos, device string, width, height int) ([]string, error) {
	var input []string
	switch goos {
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		input = []string{"-f", "v4l2", "-video_size", fmt.Sprintf("%dx%d", width, height), "-i", device}
	case "darwin":
		if device == "" {
			device = "0"
		}
		input = []string{"-f", "avfoundation", "-framerate", "30", "-video_size", fmt.Sprintf("%dx%d", width, height), "-i", device}
	case "windows":
		if device == "" {
			return nil, fmt.Errorf("%w: CAMERA_DEVICE is required on windows", ErrDeviceUnavailable)
		}
		input = []string{"-f", "dshow", "-video_size", fmt.Sprintf("%dx%d", width, height), "-i", "video=" + device}
	default:
		return nil, fmt.Errorf("%w: camera capture is not implemented for %s", ErrDeviceUnavailable, goos)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-frames:v", "1",
		"-vf", "scale="+strconv.Itoa(width)+":"+strconv.Itoa(height),
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-",
	), nil
}

// Grab runs one camera read. The frame is returned as an *image.RGBA.
func (g *FFmpegGrabber) Grab(ctx context.Context) (image.Image, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", g.args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	frame := make([]byte, g.width*g.height*3)
	_, readErr := io.ReadFull(stdout, frame)
	waitErr := cmd.Wait()
	if readErr != nil {
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrDeviceUnavailable, waitErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%w: short frame: %v", ErrDeviceUnavailable, readErr)
	}
	return RGBToImage(frame, g.width, g.height)
}

// RGBToImage converts packed rgb24 pixels into an RGBA image
func RGBToImage(rgb []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(rgb) != width*height*3 {
		return nil, fmt.Errorf("frame is %d bytes, want %dx%dx3", len(rgb), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(rgb); i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
