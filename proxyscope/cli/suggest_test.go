package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggest(t *testing.T) {
	t.Parallel()

	commands := []string{"serve", "traffic", "version", "help"}

	assert.Equal(t, "traffic", Suggest("trafic", commands))
	assert.Equal(t, "serve", Suggest("sevre", commands))
	assert.Empty(t, Suggest("completely-unrelated", commands))
	assert.Empty(t, Suggest("x", nil))
}

func TestUnknownCommandError(t *testing.T) {
	t.Parallel()

	err := UnknownCommandError("trafic", []string{"serve", "traffic"})
	assert.ErrorContains(t, err, "unknown command: trafic")
	assert.ErrorContains(t, err, `did you mean "traffic"?`)

	err = UnknownCommandError("zzzzzzzz", []string{"serve", "traffic"})
	assert.ErrorContains(t, err, "unknown command: zzzzzzzz")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestUnknownSubcommandError(t *testing.T) {
	t.Parallel()

	err := UnknownSubcommandError("traffic", "serch", []string{"list", "search", "clear"})
	assert.ErrorContains(t, err, "unknown traffic subcommand: serch")
	assert.ErrorContains(t, err, `did you mean "search"?`)
}
