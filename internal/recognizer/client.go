package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrNoDetection means the frame held no single usable face.
var ErrNoDetection = errors.New("no face detected")

// MockDescriptor is what Detect returns in skip mode.
var MockDescriptor = []float32{0.1, 0.2, 0.3}

// FaceQuality contains face quality metrics reported by the face service.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// Detection is a descriptor plus what the face service said about it.
type Detection struct {
	Descriptor    []float32
	Score         float64
	FacesDetected int
	Quality       *FaceQuality
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Detect extracts the descriptor of the single face in frame.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]float32, error) {
	det, err := c.DetectWithScore(ctx, frame)
	if err != nil {
		return nil, err
	}
	return det.Descriptor, nil
}

// Distance is the metric used by the matcher.
func (c *Client) Distance(a, b []float32) float64 {
	return Euclidean(a, b)
}

// DetectWithScore posts frame to /embed and returns the full detection.
// Zero or several faces yield ErrNoDetection.
func (c *Client) DetectWithScore(ctx context.Context, frame []byte) (*Detection, error) {
	if c.Skip {
		out := make([]float32, len(MockDescriptor))
		copy(out, MockDescriptor)
		return &Detection{
			Descriptor:    out,
			Score:         0.95,
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, Blur: 0.1, IsFrontal: true},
		}, nil
	}
	if len(frame) == 0 {
		return nil, ErrNoDetection
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(frame); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrNoDetection
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding     []float32    `json:"embedding"`
		Score         float64      `json:"score"`
		FacesDetected int          `json:"faces_detected"`
		Quality       *FaceQuality `json:"quality"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.FacesDetected != 1 || len(out.Embedding) == 0 {
		return nil, ErrNoDetection
	}

	return &Detection{
		Descriptor:    out.Embedding,
		Score:         out.Score,
		FacesDetected: out.FacesDetected,
		Quality:       out.Quality,
	}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
