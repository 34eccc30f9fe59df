package attendance

import (
	"context"
	"math"

	"rollcall/internal/recognizer"
	"rollcall/internal/store"
)

// DefaultThreshold is the largest distance still accepted as the same face.
const DefaultThreshold = 0.6

// DescriptorSource lists the stored descriptors to match against.
type DescriptorSource interface {
	Descriptors(ctx context.Context) ([]store.FaceDescriptor, error)
}

// DistanceFunc compares two descriptors; smaller is closer.
type DistanceFunc func(a, b []float32) float64

// Match is an accepted recognition.
type Match struct {
	RollNumber string  `json:"roll_number"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Matcher finds the nearest stored descriptor to a live one.
type Matcher struct {
	source    DescriptorSource
	distance  DistanceFunc
	threshold float64
}

// NewMatcher builds a matcher. A nil distance means euclidean and a
// non-positive threshold means DefaultThreshold.
func NewMatcher(source DescriptorSource, distance DistanceFunc, threshold float64) *Matcher {
	if distance == nil {
		distance = recognizer.Euclidean
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{source: source, distance: distance, threshold: threshold}
}

// Threshold returns the acceptance cutoff.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Recognize returns the closest stored descriptor when its distance is
// strictly below the threshold. On equal distances the first descriptor in
// source order wins. ok is false when nothing is close enough or the
// table is empty.
func (m *Matcher) Recognize(ctx context.Context, descriptor []float32) (Match, bool, error) {
	stored, err := m.source.Descriptors(ctx)
	if err != nil {
		return Match{}, false, err
	}

	best := -1
	bestDistance := math.Inf(1)
	for i, fd := range stored {
		d := m.distance(descriptor, fd.Descriptor)
		if d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 || !(bestDistance < m.threshold) {
		return Match{}, false, nil
	}
	return Match{
		RollNumber: stored[best].RollNumber,
		Distance:   bestDistance,
		Confidence: (1 - bestDistance) * 100,
	}, true, nil
}
