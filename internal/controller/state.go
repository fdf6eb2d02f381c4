package controller

import (
	"sync"

	"k8s.io/apimachinery/pkg/types"
)

// GenerationState is the controller's in-memory map from Decryptor name to
// the last observed metadata.generation. It is the single mechanism that
// prevents the reconciler from triggering itself when it writes its own
// status: an applied event whose generation already matches the stored
// value is a self-triggered no-op.
type GenerationState struct {
	mu  sync.Mutex
	gen map[types.NamespacedName]int64
}

// NewGenerationState builds an empty GenerationState.
func NewGenerationState() *GenerationState {
	return &GenerationState{gen: make(map[types.NamespacedName]int64)}
}

// Known reports whether name has ever been observed.
func (s *GenerationState) Known(name types.NamespacedName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.gen[name]
	return ok
}

// Upsert stores generation for name and reports whether it is unchanged
// from the previously stored value (the short-circuit condition). A name
// seen for the first time is never unchanged.
func (s *GenerationState) Upsert(name types.NamespacedName, generation int64) (unchanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.gen[name]
	s.gen[name] = generation
	return ok && prev == generation
}

// Delete removes name from the state, on Decryptor deletion.
func (s *GenerationState) Delete(name types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gen, name)
}
