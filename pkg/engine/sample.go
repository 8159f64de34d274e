package engine

import (
	"math/rand/v2"
)

// SampleProcessor keeps roughly rate of the items it sees. A rate of 1
// keeps everything and 0 drops everything.
type SampleProcessor struct {
	name string
	rate float64
	rand func() float64
}

func NewSampleProcessor(name string, rate float64) *SampleProcessor {
	return &SampleProcessor{name: name, rate: rate, rand: rand.Float64}
}

// WithRand replaces the random source, which must return values in [0,1).
func (s *SampleProcessor) WithRand(fn func() float64) *SampleProcessor {
	s.rand = fn
	return s
}

func (s *SampleProcessor) Name() string {
	return s.name
}

func (s *SampleProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	if s.rate >= 1 {
		return item, false, nil
	}
	return item, s.rand() >= s.rate, nil
}
