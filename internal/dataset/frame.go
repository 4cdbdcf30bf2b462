// Package dataset holds the small numeric table type that moves between the
// preprocess and train stages, plus its CSV encoding.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Frame is a dense table of float64 values with named columns.
type Frame struct {
	Columns []string
	Rows    [][]float64
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Append adds a row. The row must have one value per column.
func (f *Frame) Append(row []float64) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// Index returns the position of a column, or -1.
func (f *Frame) Index(name string) int {
	return slices.Index(f.Columns, name)
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]float64, error) {
	i := f.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]float64, len(f.Rows))
	for r, row := range f.Rows {
		out[r] = row[i]
	}
	return out, nil
}

// Select returns a new frame holding only the named columns, in the order
// given.
func (f *Frame) Select(names ...string) (*Frame, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = f.Index(n)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found", n)
		}
	}

	out := NewFrame(names...)
	out.Rows = make([][]float64, len(f.Rows))
	for r, row := range f.Rows {
		sel := make([]float64, len(idx))
		for i, j := range idx {
			sel[i] = row[j]
		}
		out.Rows[r] = sel
	}
	return out, nil
}

// Take returns a new frame with the rows at the given positions.
func (f *Frame) Take(positions []int) *Frame {
	out := NewFrame(f.Columns...)
	out.Rows = make([][]float64, len(positions))
	for i, p := range positions {
		out.Rows[i] = slices.Clone(f.Rows[p])
	}
	return out
}

// Shuffle returns a copy of the frame with rows in a seeded random order.
func (f *Frame) Shuffle(seed uint64) *Frame {
	return f.Take(Permutation(f.Len(), seed))
}

// Split shuffles row positions with a PRNG seeded by seed and returns the
// train and test partitions. The test side gets ceil(n*testSize) rows.
func (f *Frame) Split(testSize float64, seed uint64) (train, test *Frame, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n := f.Len()
	nTest := int(math.Ceil(float64(n) * testSize))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, nil, fmt.Errorf("cannot split %d rows with test size %v", n, testSize)
	}

	perm := Permutation(n, seed)
	return f.Take(perm[nTest:]), f.Take(perm[:nTest]), nil
}

// Permutation returns a deterministic permutation of [0, n).
func Permutation(n int, seed uint64) []int {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return rng.Perm(n)
}

// ReadCSV reads a CSV file with a header row. Every cell must parse as a
// float; empty cells become NaN.
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	f, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return f, nil
}

// Decode reads CSV with a header row from r.
func Decode(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv: missing header")
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	f := NewFrame(header...)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]float64, len(rec))
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, header[i], err)
			}
			row[i] = v
		}
		if err := f.Append(row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return f, nil
}

// WriteCSV writes the frame with a header row, creating parent directories.
func (f *Frame) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Encode(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// Encode writes the frame as CSV to w.
func (f *Frame) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return err
	}
	rec := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i, v := range row {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
