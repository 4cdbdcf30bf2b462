// Package testutil provides shared helpers for tests.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// PricesCSV is a small raw stock price file in the layout of the public
// dataset: Date, Open, High, Low, Close, Adj Close, Volume. Close is exactly
// 0.5*Open + 0.25*High + 0.25*Low so a linear fit is exact.
const PricesCSV = `Date,Open,High,Low,Close,Adj Close,Volume
2020-01-02,100,104,96,100,99.5,1000
2020-01-03,102,106,100,102.5,102,1100
2020-01-06,101,103,97,100.5,100,1050
2020-01-07,105,110,101,105.25,104.75,1300
2020-01-08,107,111,105,107.5,107,1250
2020-01-09,110,112,106,109.5,109,1400
2020-01-10,108,109,104,107.25,106.75,1200
2020-02-03,111,115,109,111.5,111,1500
2020-02-04,113,118,110,113.5,113,1600
2020-02-05,116,119,113,116,115.5,1550
2020-02-06,115,117,111,114.5,114,1450
2020-02-07,118,121,115,118,117.5,1700
`

// WriteFile writes content to name inside dir, creating parent
// directories, and returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
