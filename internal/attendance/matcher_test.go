package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/store"
)

type staticSource struct {
	descriptors []store.FaceDescriptor
	err         error
}

func (s staticSource) Descriptors(context.Context) ([]store.FaceDescriptor, error) {
	return s.descriptors, s.err
}

// tableDistance returns a fixed distance per stored vector, keyed by its first
// component, so tests can dictate the geometry.
func tableDistance(byKey map[float32]float64) DistanceFunc {
	return func(_, stored []float32) float64 { return byKey[stored[0]] }
}

func twoStudents() staticSource {
	return staticSource{descriptors: []store.FaceDescriptor{
		{RollNumber: "A", Descriptor: []float32{1}},
		{RollNumber: "B", Descriptor: []float32{2}},
	}}
}

func TestRecognizeAcceptsNearestBelowThreshold(t *testing.T) {
	m := NewMatcher(twoStudents(), tableDistance(map[float32]float64{1: 0.3, 2: 0.8}), 0.6)

	match, ok, err := m.Recognize(context.Background(), []float32{9})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", match.RollNumber)
	assert.InDelta(t, 0.3, match.Distance, 1e-12)
	assert.InDelta(t, 70.0, match.Confidence, 1e-9)
}

func TestRecognizeRejectsWhenNothingWithinThreshold(t *testing.T) {
	m := NewMatcher(twoStudents(), tableDistance(map[float32]float64{1: 0.7, 2: 0.8}), 0.6)

	_, ok, err := m.Recognize(context.Background(), []float32{9})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecognizeThresholdIsStrict(t *testing.T) {
	m := NewMatcher(twoStudents(), tableDistance(map[float32]float64{1: 0.6, 2: 0.9}), 0.6)

	_, ok, err := m.Recognize(context.Background(), []float32{9})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecognizeEmptyTable(t *testing.T) {
	m := NewMatcher(staticSource{}, nil, 0)

	_, ok, err := m.Recognize(context.Background(), []float32{0.1, 0.2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DefaultThreshold, m.Threshold())
}

func TestRecognizeTieGoesToFirstInSourceOrder(t *testing.T) {
	m := NewMatcher(twoStudents(), tableDistance(map[float32]float64{1: 0.2, 2: 0.2}), 0.6)

	for i := 0; i < 10; i++ {
		match, ok, err := m.Recognize(context.Background(), []float32{9})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "A", match.RollNumber)
	}
}

func TestRecognizeEuclideanIsDeterministic(t *testing.T) {
	src := staticSource{descriptors: []store.FaceDescriptor{
		{RollNumber: "A", Descriptor: []float32{0, 0}},
		{RollNumber: "B", Descriptor: []float32{0.3, 0.4}},
		{RollNumber: "C", Descriptor: []float32{1}},
	}}
	m := NewMatcher(src, nil, 0.6)

	first, ok, err := m.Recognize(context.Background(), []float32{0.3, 0.3})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", first.RollNumber)
	assert.InDelta(t, 0.1, first.Distance, 1e-6)

	for i := 0; i < 5; i++ {
		again, _, err := m.Recognize(context.Background(), []float32{0.3, 0.3})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRecognizePropagatesStorageErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewMatcher(staticSource{err: boom}, nil, 0.6)

	_, _, err := m.Recognize(context.Background(), []float32{1})
	require.ErrorIs(t, err, boom)
}
