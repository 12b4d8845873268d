package minecraft

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// LineFilter reports whether a cleaned console line should be hidden from
// subscribers
type LineFilter func(clean string) bool

const defaultBanReason = "Banned by operator."

var (
	ErrEmptyPlayerName   = errors.New("player name is required")
	ErrInvalidPlayerName = errors.New("invalid player name")
)

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	mcColorPattern    = regexp.MustCompile(`§[0-9a-fk-or]`)
	playerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)
)

// cleanConsoleLine strips ANSI and Minecraft color codes for matching only
func cleanConsoleLine(line string) string {
	clean := ansiPattern.ReplaceAllString(line, "")
	clean = mcColorPattern.ReplaceAllString(clean, "")
	return strings.TrimRight(clean, " \r")
}

func isReadyBanner(clean string) bool {
	return strings.Contains(clean, "Done (") && strings.Contains(clean, "! For help,")
}

// BanEchoFilter hides the server's echo of ban commands issued by an operator
func BanEchoFilter(clean string) bool {
	return strings.Contains(clean, "issued server command") && strings.Contains(clean, "/ban")
}

// DefaultFilters are installed on every supervisor the Manager creates
func DefaultFilters() []LineFilter {
	return []LineFilter{BanEchoFilter}
}

func validatePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyPlayerName
	}
	if !playerNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlayerName, name)
	}
	return name, nil
}

// BanCommand builds the console line for a ban. A blank reason falls back to
// the default operator reason.
func BanCommand(name, reason string) (string, error) {
	name, err := validatePlayerName(name)
	if err != nil {
		return "", err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultBanReason
	}
	return fmt.Sprintf("ban %s %s", name, reason), nil
}

func KickCommand(name, reason string) (string, error) {
	name, err := validatePlayerName(name)
	if err != nil {
		return "", err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Sprintf("kick %s", name), nil
	}
	return fmt.Sprintf("kick %s %s", name, reason), nil
}

func PardonCommand(name string) (string, error) {
	name, err := validatePlayerName(name)
	if err != nil {
		return "", err
	}
	return "pardon " + name, nil
}

// normalizeConsoleInput trims operator input to a single line. Empty input
// yields "".
func normalizeConsoleInput(input string) string {
	input = strings.TrimSpace(input)
	if i := strings.IndexAny(input, "\r\n"); i >= 0 {
		input = strings.TrimSpace(input[:i])
	}
	return input
}
