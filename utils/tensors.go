package utils

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"gorgonia.org/tensor"
)

// VStack concatenates 2-D tensors along axis 0. Empty tensors are skipped.
func VStack(tensors []*tensor.Dense) (*tensor.Dense, error) {
	return stack(tensors, 0)
}

// HStack concatenates 2-D tensors along axis 1. Empty tensors are skipped.
func HStack(tensors []*tensor.Dense) (*tensor.Dense, error) {
	return stack(tensors, 1)
}

func stack(tensors []*tensor.Dense, axis int) (*tensor.Dense, error) {
	var nonEmptyTensors []*tensor.Dense
	cols := 0
	for _, t := range tensors {
		shape := t.Shape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("expected a 2D tensor, got shape %v", shape)
		}
		if shape[axis] > 0 {
			nonEmptyTensors = append(nonEmptyTensors, t)
		}
		cols = shape[1-axis]
	}

	if len(nonEmptyTensors) == 0 {
		shape := []int{0, cols}
		if axis == 1 {
			shape = []int{cols, 0}
		}
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...), tensor.WithBacking([]float32{})), nil
	}

	if len(nonEmptyTensors) == 1 {
		return Owned(nonEmptyTensors[0])
	}

	result, err := nonEmptyTensors[0].Concat(axis, nonEmptyTensors[1:]...)
	if err != nil {
		return nil, fmt.Errorf("error concatenating tensors: %v", err)
	}

	return result, nil
}

// Owned returns a contiguous float32 copy of t that shares no memory with it.
func Owned(t *tensor.Dense) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	backing := make([]float32, len(data))
	copy(backing, data)

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(t.Shape().Clone()...),
		tensor.WithBacking(backing),
	), nil
}

// Float32Data returns the row-major float32 data of t, materializing views first.
// The slice may alias t.
func Float32Data(t *tensor.Dense) ([]float32, error) {
	if t.Dtype() != tensor.Float32 {
		return nil, fmt.Errorf("expected a float32 tensor, got %v", t.Dtype())
	}
	if t.IsMaterializable() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("cannot materialize tensor of shape %v", t.Shape())
		}
		t = m
	}
	return t.Float32s()[:t.Shape().TotalSize()], nil
}

// SplitRows cuts a 2-D tensor into consecutive row blocks of the given sizes.
// The sizes must add up to the number of rows. Every block is an owned copy.
func SplitRows(t *tensor.Dense, counts []int) ([]*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected a 2D tensor, got shape %v", shape)
	}
	total := 0
	for _, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("negative row count %d", c)
		}
		total += c
	}
	if total != shape[0] {
		return nil, fmt.Errorf("row counts add up to %d, tensor has %d rows", total, shape[0])
	}

	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}

	numCols := shape[1]
	blocks := make([]*tensor.Dense, 0, len(counts))
	start := 0
	for _, c := range counts {
		block := make([]float32, c*numCols)
		copy(block, data[start*numCols:(start+c)*numCols])
		blocks = append(blocks, tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(c, numCols),
			tensor.WithBacking(block),
		))
		start += c
	}
	return blocks, nil
}

// ArgSortDescending returns the indices that sort a 1-D tensor by descending value.
// Equal values keep their original relative order.
func ArgSortDescending(t *tensor.Dense) ([]int, error) {
	shape := t.Shape()
	if len(shape) != 1 {
		return nil, fmt.Errorf("expected a 1D tensor, got shape %v", shape)
	}

	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}

	indices := make([]int, len(data))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(i, j int) bool {
		return data[indices[i]] > data[indices[j]]
	})

	return indices, nil
}

func SelectRows2D(t *tensor.Dense, indices []int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected a 2D tensor, got shape %v", shape)
	}
	numRows, numCols := shape[0], shape[1]

	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}

	selectedData := make([]float32, 0, len(indices)*numCols)
	for _, idx := range indices {
		if idx < 0 || idx >= numRows {
			return nil, fmt.Errorf("index %d is out of bounds", idx)
		}
		selectedData = append(selectedData, data[idx*numCols:(idx+1)*numCols]...)
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(indices), numCols),
		tensor.WithBacking(selectedData),
	), nil
}

type T32 interface {
	float32 | int32 | uint32
}

// BytesToT32 decodes little-endian 32-bit values, the layout of raw inference
// server output contents. Trailing bytes that do not fill a value are ignored.
func BytesToT32[T T32](b []byte) []T {
	out := make([]T, len(b)/4)
	var zero T
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		switch any(zero).(type) {
		case float32:
			out[i] = T(math.Float32frombits(bits))
		case int32:
			out[i] = T(int32(bits))
		default:
			out[i] = T(bits)
		}
	}
	return out
}
