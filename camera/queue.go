package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"
)

// CapturedImage is a decoded frame waiting to be sent
type CapturedImage struct {
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// ImageQueue holds captured frames in capture order until the next turn
// drains them. Each frame is handed out exactly once.
type ImageQueue struct {
	mu      sync.Mutex
	items   []CapturedImage
	nextSeq uint64
}

// NewImageQueue creates an empty queue
func NewImageQueue() *ImageQueue {
	return &ImageQueue{}
}

// Add appends img and returns the new queue length
func (q *ImageQueue) Add(img image.Image) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	q.items = append(q.items, CapturedImage{Seq: q.nextSeq, Image: img, CapturedAt: time.Now()})
	return len(q.items)
}

// Drain removes and returns every queued frame, oldest first
func (q *ImageQueue) Drain() []CapturedImage {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of frames waiting
func (q *ImageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// EncodePNGDataURI encodes img as "data:image/png;base64,..."
func EncodePNGDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
