package camera

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func solid(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestImageQueueFIFO(t *testing.T) {
	q := NewImageQueue()
	a, b := solid(color.RGBA{R: 255, A: 255}), solid(color.RGBA{G: 255, A: 255})

	if n := q.Add(a); n != 1 {
		t.Errorf("Expected 1 image, got %d", n)
	}
	if n := q.Add(b); n != 2 {
		t.Errorf("Expected 2 images, got %d", n)
	}

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("Expected 2 drained images, got %d", len(items))
	}
	if items[0].Image != a || items[1].Image != b {
		t.Error("Images drained out of capture order")
	}
	if items[0].Seq >= items[1].Seq {
		t.Errorf("Sequence not increasing: %d then %d", items[0].Seq, items[1].Seq)
	}

	// never handed out twice
	if q.Len() != 0 || len(q.Drain()) != 0 {
		t.Error("Queue not empty after drain")
	}

	q.Add(a)
	if items := q.Drain(); items[0].Seq != 3 {
		t.Errorf("Expected sequence to continue at 3, got %d", items[0].Seq)
	}
}

func TestEncodePNGDataURI(t *testing.T) {
	img := solid(color.RGBA{R: 10, G: 20, B: 30, A: 255})
	uri, err := EncodePNGDataURI(img)
	if err != nil {
		t.Fatalf("EncodePNGDataURI failed: %v", err)
	}

	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("Missing data URI prefix: %q", uri[:20])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("Invalid base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Invalid png: %v", err)
	}
	r, g, b, _ := decoded.At(1, 1).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Errorf("Unexpected pixel %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestRGBToImage(t *testing.T) {
	img, err := RGBToImage([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	if err != nil {
		t.Fatalf("RGBToImage failed: %v", err)
	}
	want := []uint8{1, 2, 3, 255, 4, 5, 6, 255}
	if !bytes.Equal(img.Pix, want) {
		t.Errorf("Expected %v, got %v", want, img.Pix)
	}

	if _, err := RGBToImage([]byte{1, 2}, 2, 1); err == nil {
		t.Error("Expected error for short frame")
	}
}

func TestGrabArgs(t *testing.T) {
	args, err := grabArgs("linux", "", 640, 480)
	if err != nil {
		t.Fatalf("grabArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f v4l2", "-i /dev/video0", "-frames:v 1", "-pix_fmt rgb24", "640x480"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Missing %q in %q", want, joined)
		}
	}

	if _, err := grabArgs("windows", "", 640, 480); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable without a windows device, got %v", err)
	}
	if _, err := grabArgs("plan9", "", 640, 480); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable on unsupported platform, got %v", err)
	}
}
