package minecraft

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	GamemodeOptions   = []string{"survival", "creative", "adventure", "spectator"}
	DifficultyOptions = []string{"peaceful", "easy", "normal", "hard"}
)

type intRange struct {
	key      string
	min, max int
}

var (
	maxPlayersRange        = intRange{"max-players", 1, 10000}
	spawnProtectionRange   = intRange{"spawn-protection", 0, 10000}
	playerIdleTimeoutRange = intRange{"player-idle-timeout", 0, 10000}
	viewDistanceRange      = intRange{"view-distance", 2, 32}
)

// ServerSettings is the typed subset of server.properties the panel edits
type ServerSettings struct {
	LevelSeed         string `json:"levelSeed"`
	MaxPlayers        int    `json:"maxPlayers"`
	Gamemode          string `json:"gamemode"`
	Difficulty        string `json:"difficulty"`
	Whitelist         bool   `json:"whitelist"`
	CrackedMode       bool   `json:"crackedMode"`
	AllowFlight       bool   `json:"allowFlight"`
	ForceGamemode     bool   `json:"forceGamemode"`
	SpawnProtection   int    `json:"spawnProtection"`
	PlayerIdleTimeout int    `json:"playerIdleTimeout"`
	ViewDistance      int    `json:"viewDistance"`
	MOTD              string `json:"motd"`
}

// ServerSettingsFromProperties reads the form from p. Values the form cannot
// represent fall back to the field's first valid value.
func ServerSettingsFromProperties(p *Properties) ServerSettings {
	return ServerSettings{
		LevelSeed:         p.Get("level-seed", ""),
		MaxPlayers:        readInt(p, maxPlayersRange),
		Gamemode:          readChoice(p, "gamemode", GamemodeOptions),
		Difficulty:        readChoice(p, "difficulty", DifficultyOptions),
		Whitelist:         readBool(p, "white-list"),
		CrackedMode:       strings.EqualFold(p.Get("online-mode", "true"), "false"),
		AllowFlight:       readBool(p, "allow-flight"),
		ForceGamemode:     readBool(p, "force-gamemode"),
		SpawnProtection:   readInt(p, spawnProtectionRange),
		PlayerIdleTimeout: readInt(p, playerIdleTimeoutRange),
		ViewDistance:      readInt(p, viewDistanceRange),
		MOTD:              p.Get("motd", ""),
	}
}

func readInt(p *Properties, r intRange) int {
	v, err := strconv.Atoi(strings.TrimSpace(p.Get(r.key, "")))
	if err != nil {
		return r.min
	}
	if v < r.min {
		return r.min
	}
	if v > r.max {
		return r.max
	}
	return v
}

func readChoice(p *Properties, key string, options []string) string {
	current := p.Get(key, "")
	for _, opt := range options {
		if opt == current {
			return opt
		}
	}
	return options[0]
}

func readBool(p *Properties, key string) bool {
	return strings.EqualFold(p.Get(key, ""), "true")
}

func (s ServerSettings) Validate() error {
	for _, c := range []struct {
		r intRange
		v int
	}{
		{maxPlayersRange, s.MaxPlayers},
		{spawnProtectionRange, s.SpawnProtection},
		{playerIdleTimeoutRange, s.PlayerIdleTimeout},
		{viewDistanceRange, s.ViewDistance},
	} {
		if c.v < c.r.min || c.v > c.r.max {
			return fmt.Errorf("%s must be between %d and %d", c.r.key, c.r.min, c.r.max)
		}
	}
	if !contains(GamemodeOptions, s.Gamemode) {
		return fmt.Errorf("gamemode must be one of %s", strings.Join(GamemodeOptions, ", "))
	}
	if !contains(DifficultyOptions, s.Difficulty) {
		return fmt.Errorf("difficulty must be one of %s", strings.Join(DifficultyOptions, ", "))
	}
	if strings.ContainsAny(s.LevelSeed+s.MOTD, "\r\n") {
		return fmt.Errorf("level seed and motd must be single line")
	}
	return nil
}

// ApplyTo writes every form field into p
func (s ServerSettings) ApplyTo(p *Properties) error {
	if err := s.Validate(); err != nil {
		return err
	}
	onlineMode := "true"
	if s.CrackedMode {
		onlineMode = "false"
	}
	for _, kv := range [][2]string{
		{"level-seed", s.LevelSeed},
		{"max-players", strconv.Itoa(s.MaxPlayers)},
		{"gamemode", s.Gamemode},
		{"difficulty", s.Difficulty},
		{"white-list", strconv.FormatBool(s.Whitelist)},
		{"allow-flight", strconv.FormatBool(s.AllowFlight)},
		{"force-gamemode", strconv.FormatBool(s.ForceGamemode)},
		{"spawn-protection", strconv.Itoa(s.SpawnProtection)},
		{"player-idle-timeout", strconv.Itoa(s.PlayerIdleTimeout)},
		{"view-distance", strconv.Itoa(s.ViewDistance)},
		{"motd", s.MOTD},
		{"online-mode", onlineMode},
	} {
		if err := p.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func contains(options []string, v string) bool {
	for _, opt := range options {
		if opt == v {
			return true
		}
	}
	return false
}
