package service

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/glebk/draw-bot/internal/random"
)

// Picker chooses a winner index uniformly from [0, n)
type Picker interface {
	Pick(n int) int
}

// PickerFunc adapts a function to Picker
type PickerFunc func(n int) int

// Pick calls f(n)
func (f PickerFunc) Pick(n int) int {
	return f(n)
}

// RandomPicker draws from a PCG generator; safe for concurrent use
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker creates a picker with a fixed seed, for reproducible draws
func NewRandomPicker(seed uint64) *RandomPicker {
	return &RandomPicker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewSeededPicker creates a picker seeded from crypto/rand
func NewSeededPicker() (*RandomPicker, error) {
	seed, err := random.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("failed to seed picker: %w", err)
	}
	return NewRandomPicker(seed), nil
}

// Pick returns a uniform index in [0, n)
func (p *RandomPicker) Pick(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}
