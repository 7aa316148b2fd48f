// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signal

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Dataset yields sliding windows of consecutive snapshots of a Signal. It implements train.Dataset.
//
// Each Yield returns the window starting at the next position, with the inputs:
//
//   - features: float32 shaped [windowSize, numNodes, numFeatures].
//   - source, target: int32 shaped [windowSize, maxEdges], the edges of each snapshot.
//   - weights: float32 shaped [windowSize, maxEdges], 1 for snapshots without weights.
//   - mask: bool shaped [windowSize, maxEdges].
//
// And the labels: float32 targets shaped [windowSize, numNodes].
//
// Snapshots with fewer edges than maxEdges (the largest number of edges in the signal) are padded with
// masked out edges from node 0 to node 0 with weight 0, so that all windows share the same shapes.
//
// The `spec` returned by Yield is always nil.
type Dataset struct {
	name       string
	signal     *Signal
	windowSize int
	maxEdges   int

	mu       sync.Mutex
	next     int
	infinite bool
	order    []int
	rng      *rand.Rand
}

// Indices of the inputs yielded by Dataset.
const (
	InputFeatures = iota
	InputSource
	InputTarget
	InputWeights
	InputMask

	NumInputs
)

var _ train.Dataset = (*Dataset)(nil)

// Dataset returns a train.Dataset over the windows of windowSize consecutive snapshots of s.
// A signal with T snapshots has T-windowSize+1 windows.
func (s *Signal) Dataset(name string, windowSize int) (*Dataset, error) {
	if windowSize <= 0 {
		return nil, errors.Errorf("dataset %q: windowSize must be > 0, got %d", name, windowSize)
	}
	if windowSize > s.Len() {
		return nil, errors.Errorf("dataset %q: windowSize=%d is larger than the number of snapshots (%d) of signal %q",
			name, windowSize, s.Len(), s.Name)
	}
	return &Dataset{
		name:       name,
		signal:     s,
		windowSize: windowSize,
		maxEdges:   max(s.MaxEdges(), 1),
	}, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string {
	return ds.name
}

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("dataset %q: %d windows of %d snapshots, %d edges", ds.name, ds.NumWindows(), ds.windowSize, ds.maxEdges)
}

// NumWindows returns the number of windows yielded in one epoch.
func (ds *Dataset) NumWindows() int {
	return ds.signal.Len() - ds.windowSize + 1
}

// MaxEdges returns the number of edges (including padding) of each snapshot yielded.
func (ds *Dataset) MaxEdges() int {
	return ds.maxEdges
}

// Infinite sets whether the dataset loops indefinitely. The default is false, and Yield returns io.EOF
// at the end of each epoch.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = infinite
	return ds
}

// Shuffle configures the dataset to yield the windows in random order, reshuffled at every epoch.
// The same seed yields the same sequence of epochs.
func (ds *Dataset) Shuffle(seed uint64) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.rng = rand.New(rand.NewPCG(seed, seed))
	ds.shuffleLocked()
	return ds
}

// shuffleLocked assumes ds.mu is locked.
func (ds *Dataset) shuffleLocked() {
	ds.order = ds.rng.Perm(ds.NumWindows())
}

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.resetLocked()
}

func (ds *Dataset) resetLocked() {
	ds.next = 0
	if ds.rng != nil {
		ds.shuffleLocked()
	}
}

// nextWindow returns the index of the first snapshot of the next window, or -1 at the end of the epoch.
func (ds *Dataset) nextWindow() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= ds.NumWindows() {
		if !ds.infinite {
			return -1
		}
		ds.resetLocked()
	}
	start := ds.next
	if ds.order != nil {
		start = ds.order[start]
	}
	ds.next++
	return start
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	start := ds.nextWindow()
	if start < 0 {
		err = io.EOF
		return
	}
	inputs, labels = ds.Window(start)
	return
}

// Window returns the inputs and labels of the window starting at snapshot start. See Dataset for their
// description.
func (ds *Dataset) Window(start int) (inputs, labels []*tensors.Tensor) {
	windowSize, maxEdges := ds.windowSize, ds.maxEdges
	numNodes, numFeatures := ds.signal.NumNodes, ds.signal.NumFeatures
	features := make([]float32, 0, windowSize*numNodes*numFeatures)
	source := make([]int32, windowSize*maxEdges)
	target := make([]int32, windowSize*maxEdges)
	weights := make([]float32, windowSize*maxEdges)
	mask := make([]bool, windowSize*maxEdges)
	targets := make([]float32, 0, windowSize*numNodes)

	for step, snapshot := range ds.signal.Snapshots[start : start+windowSize] {
		for _, nodeFeatures := range snapshot.Features {
			features = append(features, nodeFeatures...)
		}
		targets = append(targets, snapshot.Targets...)
		offset := step * maxEdges
		for ii, edge := range snapshot.Edges {
			source[offset+ii], target[offset+ii] = edge[0], edge[1]
			mask[offset+ii] = true
			if snapshot.Weights != nil {
				weights[offset+ii] = snapshot.Weights[ii]
			} else {
				weights[offset+ii] = 1
			}
		}
	}

	inputs = make([]*tensors.Tensor, NumInputs)
	inputs[InputFeatures] = tensors.FromFlatDataAndDimensions(features, windowSize, numNodes, numFeatures)
	inputs[InputSource] = tensors.FromFlatDataAndDimensions(source, windowSize, maxEdges)
	inputs[InputTarget] = tensors.FromFlatDataAndDimensions(target, windowSize, maxEdges)
	inputs[InputWeights] = tensors.FromFlatDataAndDimensions(weights, windowSize, maxEdges)
	inputs[InputMask] = tensors.FromFlatDataAndDimensions(mask, windowSize, maxEdges)
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(targets, windowSize, numNodes)}
	return
}
