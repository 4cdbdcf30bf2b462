package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
	}{
		{"text", ModeText},
		{"json", ModeJSON},
		{"markdown", ModeMarkdown},
		{"auto", ModeAuto},
		{"", ModeAuto},
		{"yaml", ModeAuto},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mode(tt.in), "Mode(%q)", tt.in)
	}

	assert.True(t, Valid("json"))
	assert.True(t, Valid(""))
	assert.False(t, Valid("yaml"))
}

func TestEffectiveMode(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ModeText, NewRendererWithTTY(&buf, &buf, true, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeMarkdown, NewRendererWithTTY(&buf, &buf, false, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeJSON, NewRendererWithTTY(&buf, &buf, true, ModeJSON).EffectiveMode())
	assert.Equal(t, ModeMarkdown, NewRenderer(&buf, &buf, ModeAuto).EffectiveMode(), "a buffer is not a terminal")
}

func TestTable(t *testing.T) {
	var text, md bytes.Buffer
	NewRendererWithTTY(&text, &text, true, ModeText).Table([]string{"Stage", "Status"}, [][]string{{"upload", "success"}})
	NewRendererWithTTY(&md, &md, false, ModeMarkdown).Table([]string{"Stage", "Status"}, [][]string{{"upload", "success"}})

	assert.Contains(t, text.String(), "upload")
	assert.Contains(t, text.String(), "┌")
	assert.Contains(t, md.String(), "| upload | success |")
}

func TestCountAndDuration(t *testing.T) {
	r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, false, ModeText)
	assert.Equal(t, "1,234,567", r.Count(1234567))
	assert.Equal(t, "12", r.Count(12))

	assert.Equal(t, "0ms", Duration(0))
	assert.Equal(t, "250ms", Duration(250*time.Millisecond))
	assert.Equal(t, "1.5s", Duration(1500*time.Millisecond))
}

func TestStylesWithoutTTY(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithTTY(&buf, &buf, false, ModeText)
	assert.Equal(t, "failed", r.Styles().Status("failed"))
	assert.Equal(t, "success", r.Styles().Success.Render("success"))
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithTTY(&buf, &buf, false, ModeJSON)
	require.NoError(t, r.JSONLine(map[string]int{"count": 3}))
	assert.Equal(t, "{\"count\":3}\n", buf.String())
}
