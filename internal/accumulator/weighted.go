package accumulator

import (
	"fmt"
	"math"
	"sync"
)

// WeightedValue is a sample with a weight.
type WeightedValue struct {
	Value  float64
	Weight float64
}

func (w WeightedValue) String() string {
	return fmt.Sprintf("%v", w.Value)
}

// WeightedMean is sum(w*x) / sum(w). Empty yields NaN with weight 1.
type WeightedMean struct {
	mu     sync.Mutex
	sum    float64
	weight float64
}

func NewWeightedMean() *WeightedMean { return &WeightedMean{} }

func (a *WeightedMean) Add(v WeightedValue) {
	a.mu.Lock()
	a.sum += v.Value * v.Weight
	a.weight += v.Weight
	a.mu.Unlock()
}

func (a *WeightedMean) Result() WeightedValue {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.weight == 0 {
		return WeightedValue{Value: math.NaN(), Weight: 1}
	}
	return WeightedValue{Value: a.sum / a.weight, Weight: 1}
}

func (a *WeightedMean) Reset() {
	a.mu.Lock()
	a.sum, a.weight = 0, 0
	a.mu.Unlock()
}

// WeightedHarmonicMean is sum(w) / sum(w/x). Empty yields NaN with weight 1.
type WeightedHarmonicMean struct {
	mu     sync.Mutex
	weight float64
	inv    float64
}

func NewWeightedHarmonicMean() *WeightedHarmonicMean { return &WeightedHarmonicMean{} }

func (a *WeightedHarmonicMean) Add(v WeightedValue) {
	a.mu.Lock()
	a.weight += v.Weight
	a.inv += v.Weight / v.Value
	a.mu.Unlock()
}

func (a *WeightedHarmonicMean) Result() WeightedValue {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.weight == 0 {
		return WeightedValue{Value: math.NaN(), Weight: 1}
	}
	return WeightedValue{Value: a.weight / a.inv, Weight: 1}
}

func (a *WeightedHarmonicMean) Reset() {
	a.mu.Lock()
	a.weight, a.inv = 0, 0
	a.mu.Unlock()
}
