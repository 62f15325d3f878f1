// Package config defines the server's configuration surface and the
// cobra/viper command that populates it. CLI flags win over
// environment variables, which win over defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "0.1.0"

// Config holds every knob from spec §6. Its fields are exported so
// that the server package can read them; NewCmd populates them and
// Validate checks them.
type Config struct {
	Bind string
	Port int

	TLSCert string
	TLSKey  string

	TokenSecret  string
	RuleFilePath string

	MinPlayers     int
	MaxPlayers     int
	LobbyWait      time.Duration
	TicksPerGame   int
	SecondsPerTick time.Duration

	Profile bool
	Verbose bool
	Version bool
}

func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.TokenSecret == "" {
		return errors.New("--token-secret must be provided")
	}
	if c.MinPlayers < 2 {
		return fmt.Errorf("--min-players must be >= 2: %d", c.MinPlayers)
	}
	if c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("--max-players (%d) must be >= --min-players (%d)", c.MaxPlayers, c.MinPlayers)
	}
	if c.LobbyWait < time.Second {
		return fmt.Errorf("--lobby-wait must be >= 1s: %s", c.LobbyWait)
	}
	if c.TicksPerGame < 30 {
		return fmt.Errorf("--ticks-per-game must be >= 30: %d", c.TicksPerGame)
	}
	if c.SecondsPerTick < time.Second {
		return fmt.Errorf("--seconds-per-tick must be >= 1s: %s", c.SecondsPerTick)
	}
	return nil
}

func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

// NewCmd builds the root cobra command, mirroring the teacher's
// newCmd: a viper instance bound to every pflag, CLI wins over env.
func NewCmd(cfg *Config, serve func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "arena-server",
		Short:         "A real-time, multi-player programmatic battle arena server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: ARENA_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: ARENA_PORT)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: ARENA_TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: ARENA_TLS_KEY)")
	fs.StringVar(&cfg.TokenSecret, "token-secret", "", "secret used to verify bearer tokens (env: ARENA_TOKEN_SECRET)")
	fs.StringVar(&cfg.RuleFilePath, "rule-file", "", "path to a scripted rule file; empty uses the built-in reference rules (env: ARENA_RULE_FILE)")
	fs.IntVar(&cfg.MinPlayers, "min-players", 2, "minimum players needed to start a countdown (env: ARENA_MIN_PLAYERS)")
	fs.IntVar(&cfg.MaxPlayers, "max-players", 8, "maximum players allowed to register (env: ARENA_MAX_PLAYERS)")
	fs.DurationVar(&cfg.LobbyWait, "lobby-wait", 10*time.Second, "lobby countdown once quorum is reached (env: ARENA_LOBBY_WAIT)")
	fs.IntVar(&cfg.TicksPerGame, "ticks-per-game", 300, "tick budget per round (env: ARENA_TICKS_PER_GAME)")
	fs.DurationVar(&cfg.SecondsPerTick, "seconds-per-tick", 1*time.Second, "wall-clock duration of one tick (env: ARENA_SECONDS_PER_TICK)")
	fs.BoolVar(&cfg.Profile, "profile", false, "register net/http/pprof handlers (env: ARENA_PROFILE)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: ARENA_VERBOSE)")
	fs.BoolVarP(&cfg.Version, "version", "V", false, "display version and exit (env: ARENA_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("arena-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
