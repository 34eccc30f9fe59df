package recognizer

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEuclidean(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"3-4-5", []float32{0, 0}, []float32{3, 4}, 5},
		{"length mismatch", []float32{1}, []float32{1, 2}, math.Inf(1)},
		{"empty", nil, nil, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Euclidean(tt.a, tt.b)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func faceService(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			f, _, err := r.FormFile("image")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			assert.Equal(t, "jpeg-bytes", string(data))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectReturnsEmbedding(t *testing.T) {
	srv := faceService(t, http.StatusOK, map[string]any{
		"embedding":      []float32{0.5, 0.25},
		"score":          0.9,
		"faces_detected": 1,
	})
	c := New(srv.URL, false)

	det, err := c.DetectWithScore(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, det.Descriptor)
	assert.Equal(t, 0.9, det.Score)
	require.NoError(t, c.Health(context.Background()))
}

func TestDetectNoUsableFace(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"no face", http.StatusOK, map[string]any{"embedding": []float32{}, "faces_detected": 0}},
		{"two faces", http.StatusOK, map[string]any{"embedding": []float32{1}, "faces_detected": 2}},
		{"rejected frame", http.StatusUnprocessableEntity, map[string]any{"error": "no face"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(faceService(t, tt.status, tt.body).URL, false)
			_, err := c.Detect(context.Background(), []byte("jpeg-bytes"))
			require.ErrorIs(t, err, ErrNoDetection)
		})
	}
}

func TestDetectServiceErrorIsNotNoDetection(t *testing.T) {
	c := New(faceService(t, http.StatusInternalServerError, map[string]any{"error": "boom"}).URL, false)
	_, err := c.Detect(context.Background(), []byte("jpeg-bytes"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDetection)
}

func TestDetectEmptyFrame(t *testing.T) {
	c := New("http://127.0.0.1:0", false)
	_, err := c.Detect(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoDetection)
}

func TestSkipModeReturnsMock(t *testing.T) {
	c := New("", true)
	d, err := c.Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, MockDescriptor, d)
	d[0] = 42
	assert.NotEqual(t, float32(42), MockDescriptor[0])
	require.NoError(t, c.Health(context.Background()))
}
