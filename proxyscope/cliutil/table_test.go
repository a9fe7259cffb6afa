package cliutil

import (
	"bytes"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
)

func TestStatusRowPainter(t *testing.T) {
	t.Parallel()

	painter := StatusRowPainter(1)

	assert.Nil(t, painter(table.Row{"a", 200}))
	assert.Equal(t, text.Colors{text.FgYellow}, painter(table.Row{"a", 404}))
	assert.Equal(t, text.Colors{text.FgRed}, painter(table.Row{"a", 503}))
	// Missing or non-int status stays uncolored
	assert.Nil(t, painter(table.Row{"a"}))
	assert.Nil(t, painter(table.Row{"a", "-"}))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Summary(&buf, 1, "flow", "flows")
	assert.Equal(t, "\n1 flow\n", buf.String())

	buf.Reset()
	Summary(&buf, 3, "flow", "flows")
	assert.Equal(t, "\n3 flows\n", buf.String())
}

func TestHintCommand(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	HintCommand(&buf, "To see more", "proxyscope traffic list --offset 50")
	assert.Equal(t, "To see more:\n  proxyscope traffic list --offset 50\n", buf.String())
}
