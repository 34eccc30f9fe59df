package attendance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/queue"
	"rollcall/internal/store"
)

type fakeDetector struct {
	calls atomic.Int32
	fn    func(ctx context.Context, frame []byte) ([]float32, error)
}

func (d *fakeDetector) Detect(ctx context.Context, frame []byte) ([]float32, error) {
	d.calls.Add(1)
	return d.fn(ctx, frame)
}

func always(vec []float32, err error) *fakeDetector {
	return &fakeDetector{fn: func(context.Context, []byte) ([]float32, error) { return vec, err }}
}

type staticFrames struct {
	openErr error
	closed  atomic.Bool
}

func (f *staticFrames) Open(context.Context) error { return f.openErr }

func (f *staticFrames) Frame(context.Context) ([]byte, error) { return []byte("frame"), nil }

func (f *staticFrames) Close() error {
	f.closed.Store(true)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

var (
	faceA = []float32{0, 0}
	faceB = []float32{1, 1}
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_, err := st.AddSubject(ctx, "Math")
	require.NoError(t, err)
	require.NoError(t, st.RegisterStudent(ctx, store.Student{RollNumber: "A", Name: "Ada"}, faceA))
	require.NoError(t, st.RegisterStudent(ctx, store.Student{RollNumber: "B", Name: "Bob"}, faceB))
	return st
}

func newTestScanner(st *store.Store, det Detector, pub Publisher, interval time.Duration) *Scanner {
	return NewScanner(st, det, NewMatcher(st, nil, 0.6), pub, Options{Interval: interval})
}

func waitCalls(t *testing.T, det *fakeDetector, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return det.calls.Load() >= n }, 2*time.Second, time.Millisecond)
}

func TestRepeatedDetectionMarksOnce(t *testing.T) {
	st := seededStore(t)
	det := always([]float32{0.05, 0}, nil)
	pub := &recordingPublisher{}
	sc := newTestScanner(st, det, pub, 2*time.Millisecond)

	sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
	require.NoError(t, err)
	waitCalls(t, det, 10)
	assert.Equal(t, []string{"A"}, sess.Seen())
	sess.Stop()

	recs, err := st.AttendanceBySubject(context.Background(), "Math")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].RollNumber)

	marks := sess.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, recs[0], marks[0].Record)
	assert.InDelta(t, 95.0, marks[0].Match.Confidence, 1e-4)
	assert.Equal(t, 1, pub.Len())
	assert.Empty(t, sess.Seen(), "dedup set is cleared on stop")
}

func TestDeletedSubjectIsNotMarked(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	var face atomic.Value
	face.Store(faceA)
	det := &fakeDetector{fn: func(context.Context, []byte) ([]float32, error) {
		return face.Load().([]float32), nil
	}}
	sc := newTestScanner(st, det, nil, 2*time.Millisecond)

	sess, err := sc.Start(ctx, "Math", &staticFrames{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sess.Marks()) == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, st.DeleteSubject(ctx, "Math"))
	face.Store(faceB)
	calls := det.calls.Load()
	waitCalls(t, det, calls+5)
	sess.Stop()

	recs, err := st.AttendanceBySubject(ctx, "Math")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, []string{"A"}, rollsOf(sess.Marks()))
}

func rollsOf(marks []Mark) []string {
	out := make([]string, 0, len(marks))
	for _, m := range marks {
		out = append(out, m.Record.RollNumber)
	}
	return out
}

func TestStopBeforeFirstTickWritesNothing(t *testing.T) {
	st := seededStore(t)
	det := always(faceA, nil)
	frames := &staticFrames{}
	sc := newTestScanner(st, det, nil, time.Hour)

	sess, err := sc.Start(context.Background(), "Math", frames)
	require.NoError(t, err)
	sess.Stop()

	assert.Empty(t, sess.Seen())
	assert.Empty(t, sess.Marks())
	assert.False(t, sess.Running())
	assert.True(t, frames.closed.Load())
	assert.Nil(t, sc.Active())
	recs, err := st.Attendance(context.Background(), store.AttendanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, det.calls.Load())
}

func TestInFlightResultIsDiscardedOnStop(t *testing.T) {
	st := seededStore(t)
	entered := make(chan struct{})
	var once sync.Once
	det := &fakeDetector{fn: func(ctx context.Context, _ []byte) ([]float32, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		// a recognizer that ignores cancellation still answers
		return faceA, nil
	}}
	sc := newTestScanner(st, det, nil, time.Millisecond)

	sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
	require.NoError(t, err)
	<-entered
	sess.Stop()

	recs, err := st.Attendance(context.Background(), store.AttendanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, sess.Marks())
}

func TestNoDetectionAndNoMatchWriteNothing(t *testing.T) {
	tests := []struct {
		name string
		det  *fakeDetector
	}{
		{"no face", always(nil, ErrNoDetection)},
		{"stranger", always([]float32{5, 5}, nil)},
		{"detector failure", always(nil, errors.New("service down"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := seededStore(t)
			sc := newTestScanner(st, tt.det, nil, time.Millisecond)

			sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
			require.NoError(t, err)
			waitCalls(t, tt.det, 3)
			sess.Stop()

			recs, err := st.Attendance(context.Background(), store.AttendanceFilter{})
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestDescriptorWithoutStudentIsNotMarked(t *testing.T) {
	st := seededStore(t)
	require.NoError(t, st.SaveDescriptor(context.Background(), "ghost", []float32{9, 9}))
	det := always([]float32{9, 9}, nil)
	sc := newTestScanner(st, det, nil, time.Millisecond)

	sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
	require.NoError(t, err)
	waitCalls(t, det, 3)
	sess.Stop()

	recs, err := st.Attendance(context.Background(), store.AttendanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestTwoStudentsInOneSession(t *testing.T) {
	st := seededStore(t)
	var n atomic.Int32
	det := &fakeDetector{fn: func(context.Context, []byte) ([]float32, error) {
		if n.Add(1)%2 == 0 {
			return faceB, nil
		}
		return faceA, nil
	}}
	sc := newTestScanner(st, det, nil, time.Millisecond)

	sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
	require.NoError(t, err)
	waitCalls(t, det, 8)
	sess.Stop()

	recs, err := st.AttendanceBySubject(context.Background(), "Math")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestNewSessionMarksAgain(t *testing.T) {
	st := seededStore(t)
	det := always(faceA, nil)
	sc := newTestScanner(st, det, nil, time.Millisecond)

	for i := 0; i < 2; i++ {
		sess, err := sc.Start(context.Background(), "Math", &staticFrames{})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(sess.Marks()) == 1 }, 2*time.Second, time.Millisecond)
		sess.Stop()
	}

	recs, err := st.AttendanceByStudent(context.Background(), "A")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStartValidation(t *testing.T) {
	st := seededStore(t)
	sc := newTestScanner(st, always(faceA, nil), nil, time.Hour)
	ctx := context.Background()

	_, err := sc.Start(ctx, "", &staticFrames{})
	require.ErrorIs(t, err, ErrNoSubject)

	_, err = sc.Start(ctx, "Chemistry", &staticFrames{})
	require.ErrorIs(t, err, ErrUnknownSubject)

	camErr := errors.New("permission denied")
	_, err = sc.Start(ctx, "Math", &staticFrames{openErr: camErr})
	require.ErrorIs(t, err, ErrCamera)
	require.ErrorIs(t, err, camErr)
	assert.Nil(t, sc.Active())

	sess, err := sc.Start(ctx, "Math", &staticFrames{})
	require.NoError(t, err)
	_, err = sc.Start(ctx, "Math", &staticFrames{})
	require.ErrorIs(t, err, ErrSessionActive)

	stopped, err := sc.Stop()
	require.NoError(t, err)
	assert.Same(t, sess, stopped)
	_, err = sc.Stop()
	require.ErrorIs(t, err, ErrNoSession)

	// stopping twice is harmless
	sess.Stop()
}

func TestSessionOutlivesStartContext(t *testing.T) {
	st := seededStore(t)
	det := always(faceA, nil)
	sc := newTestScanner(st, det, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := sc.Start(ctx, "Math", &staticFrames{})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool { return len(sess.Marks()) == 1 }, 2*time.Second, time.Millisecond)
	sess.Stop()
}

func TestLatestFrameHandsOutEachFrameOnce(t *testing.T) {
	ctx := context.Background()
	f := NewLatestFrame()
	require.ErrorIs(t, f.Push([]byte("x")), ErrFramesClosed)

	require.NoError(t, f.Open(ctx))
	_, err := f.Frame(ctx)
	require.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, f.Push([]byte("one")))
	require.NoError(t, f.Push([]byte("two")))
	got, err := f.Frame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
	_, err = f.Frame(ctx)
	require.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, f.Close())
	_, err = f.Frame(ctx)
	require.ErrorIs(t, err, ErrFramesClosed)
}

func TestScanWithLatestFrame(t *testing.T) {
	st := seededStore(t)
	det := always(faceB, nil)
	frames := NewLatestFrame()
	sc := newTestScanner(st, det, nil, time.Millisecond)

	sess, err := sc.Start(context.Background(), "Math", frames)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, det.calls.Load(), "no frame pushed yet")

	require.NoError(t, frames.Push([]byte("jpeg")))
	require.Eventually(t, func() bool { return len(sess.Marks()) == 1 }, 2*time.Second, time.Millisecond)
	sess.Stop()
	assert.Equal(t, int32(1), det.calls.Load())
	require.ErrorIs(t, frames.Push([]byte("late")), ErrFramesClosed)
}
