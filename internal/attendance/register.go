package attendance

import (
	"context"
	"strings"

	"rollcall/internal/store"
)

// Registrar enrols students from a captured face.
type Registrar struct {
	store    *store.Store
	detector Detector
}

func NewRegistrar(st *store.Store, detector Detector) *Registrar {
	return &Registrar{store: st, detector: detector}
}

// Capture returns the descriptor of the single face in frame, or
// ErrNoDetection.
func (r *Registrar) Capture(ctx context.Context, frame []byte) ([]float32, error) {
	return r.detector.Detect(ctx, frame)
}

// Register stores a new student together with a descriptor captured earlier.
func (r *Registrar) Register(ctx context.Context, rollNumber, name string, descriptor []float32) (store.Student, error) {
	st := store.Student{RollNumber: rollNumber, Name: name}
	if err := r.store.RegisterStudent(ctx, st, descriptor); err != nil {
		return store.Student{}, err
	}
	saved, err := r.store.Student(ctx, strings.TrimSpace(rollNumber))
	if err != nil || saved == nil {
		return st, err
	}
	return *saved, nil
}

// RegisterFrame captures and registers in one step.
func (r *Registrar) RegisterFrame(ctx context.Context, rollNumber, name string, frame []byte) (store.Student, error) {
	descriptor, err := r.Capture(ctx, frame)
	if err != nil {
		return store.Student{}, err
	}
	return r.Register(ctx, rollNumber, name, descriptor)
}
