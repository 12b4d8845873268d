package minecraft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanCommand(t *testing.T) {
	cmd, err := BanCommand("Steve", "")
	require.NoError(t, err)
	assert.Equal(t, "ban Steve Banned by operator.", cmd)

	cmd, err = BanCommand("  Alex_01 ", "  griefing spawn ")
	require.NoError(t, err)
	assert.Equal(t, "ban Alex_01 griefing spawn", cmd)

	_, err = BanCommand("   ", "x")
	assert.ErrorIs(t, err, ErrEmptyPlayerName)

	_, err = BanCommand("bad name", "")
	assert.ErrorIs(t, err, ErrInvalidPlayerName)

	_, err = BanCommand("Steve\nstop", "")
	assert.ErrorIs(t, err, ErrInvalidPlayerName)
}

func TestKickAndPardonCommands(t *testing.T) {
	cmd, err := KickCommand("Steve", "")
	require.NoError(t, err)
	assert.Equal(t, "kick Steve", cmd)

	cmd, err = KickCommand("Steve", "afk")
	require.NoError(t, err)
	assert.Equal(t, "kick Steve afk", cmd)

	cmd, err = PardonCommand("Steve")
	require.NoError(t, err)
	assert.Equal(t, "pardon Steve", cmd)

	_, err = PardonCommand("")
	assert.ErrorIs(t, err, ErrEmptyPlayerName)
}

func TestBanEchoFilter(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"[12:00:00 INFO]: Steve issued server command: /ban Alex", true},
		{"[12:00:00 INFO]: Steve issued server command: /ban-ip 10.0.0.1", true},
		{"[12:00:00 INFO]: Steve issued server command: /kick Alex", false},
		{"[12:00:00 INFO]: Banned Alex: Banned by operator.", false},
		{"[12:00:00 INFO]: <Steve> /ban is fun", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BanEchoFilter(tt.line), tt.line)
	}
}

func TestCleanConsoleLine(t *testing.T) {
	raw := "\x1b[32m[12:00:00 INFO]: §aSteve§r issued server command: /ban Alex\x1b[0m  \r"
	clean := cleanConsoleLine(raw)
	assert.Equal(t, "[12:00:00 INFO]: Steve issued server command: /ban Alex", clean)
	assert.True(t, BanEchoFilter(clean))
}

func TestIsReadyBanner(t *testing.T) {
	assert.True(t, isReadyBanner(`[12:00:00] [Server thread/INFO]: Done (12.345s)! For help, type "help"`))
	assert.False(t, isReadyBanner(`[12:00:00] [Server thread/INFO]: Preparing spawn area: 84%`))
}

func TestNormalizeConsoleInput(t *testing.T) {
	assert.Equal(t, "say hello", normalizeConsoleInput("  say hello \n"))
	assert.Equal(t, "/op Steve", normalizeConsoleInput("/op Steve"))
	assert.Equal(t, "list", normalizeConsoleInput("list\nstop"))
	assert.Equal(t, "", normalizeConsoleInput(" \t "))
}
