package dataset

import (
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame(n int) *Frame {
	f := NewFrame("x", "y")
	for i := 0; i < n; i++ {
		_ = f.Append([]float64{float64(i), float64(i * 2)})
	}
	return f
}

func TestDecode(t *testing.T) {
	f, err := Decode(strings.NewReader("a, b\n1,2.5\n3,\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, f.Columns)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, 2.5, f.Rows[0][1])
	assert.True(t, math.IsNaN(f.Rows[1][1]), "empty cell should decode to NaN")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		errPart string
	}{
		{name: "empty", input: "", errPart: "missing header"},
		{name: "not a number", input: "a\nfoo\n", errPart: `column "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestFrame_WriteAndReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "frame.csv")
	f := sampleFrame(4)

	require.NoError(t, f.WriteCSV(path))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, f.Columns, got.Columns)
	assert.Equal(t, f.Rows, got.Rows)
}

func TestFrame_Select(t *testing.T) {
	f := sampleFrame(3)

	sel, err := f.Select("y")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, sel.Columns)
	assert.Equal(t, []float64{4}, sel.Rows[2])

	_, err = f.Select("missing")
	assert.Error(t, err)
}

func TestFrame_Split(t *testing.T) {
	f := sampleFrame(10)

	train, test, err := f.Split(0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, test.Len(), "test side rounds up")

	// Every row lands on exactly one side.
	var seen []float64
	for _, r := range append(train.Rows, test.Rows...) {
		seen = append(seen, r[0])
	}
	slices.Sort(seen)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)

	// Same seed, same split.
	train2, test2, err := f.Split(0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, train.Rows, train2.Rows)
	assert.Equal(t, test.Rows, test2.Rows)
}

func TestFrame_Split_Invalid(t *testing.T) {
	_, _, err := sampleFrame(1).Split(0.25, 42)
	assert.Error(t, err, "one row cannot be split")

	_, _, err = sampleFrame(10).Split(1.5, 42)
	assert.Error(t, err)
}
