package main

import (
	"go.uber.org/atomic"
)

// Sample is one (x, y, presence) view of the live reading.
type Sample struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Present bool    `json:"present"`
}

// SampleState holds the latest valid gaze position and the presence flag.
//
// Each field is individually atomic; there is no cross-field consistency.
// A reader may see a new Present with old X/Y (or the reverse) for a moment.
// Only the poll worker writes; any goroutine may read.
type SampleState struct {
	x       atomic.Float64
	y       atomic.Float64
	present atomic.Bool
}

// Write publishes a valid reading: coordinates first, then presence.
func (s *SampleState) Write(x, y float64) {
	s.x.Store(x)
	s.y.Store(y)
	s.present.Store(true)
}

// ClearPresence marks the subject as lost. X and Y keep the last known good values.
func (s *SampleState) ClearPresence() {
	s.present.Store(false)
}

// Read returns the three fields. They are loaded one at a time.
func (s *SampleState) Read() (x, y float64, present bool) {
	return s.x.Load(), s.y.Load(), s.present.Load()
}

func (s *SampleState) Snapshot() Sample {
	x, y, present := s.Read()
	return Sample{X: x, Y: y, Present: present}
}

func (s *SampleState) X() float64    { return s.x.Load() }
func (s *SampleState) Y() float64    { return s.y.Load() }
func (s *SampleState) Present() bool { return s.present.Load() }
