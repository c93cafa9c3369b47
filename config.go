package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind            string
	countdown       time.Duration
	decisionSettle  time.Duration
	overlayClear    time.Duration
	port            int
	prefix          string
	profile         bool
	revealClose     time.Duration
	sessionTimeout  time.Duration
	teardownDelay   time.Duration
	tlsCert         string
	tlsKey          string
	traitsPerPlayer int
	verbose         bool
	version         bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.traitsPerPlayer < 1 {
		return fmt.Errorf("invalid traits-per-player (must be at least 1): %d", c.traitsPerPlayer)
	}
	if c.overlayClear < 0 || c.revealClose < 0 || c.decisionSettle < 0 || c.countdown < 0 || c.teardownDelay < 0 {
		return errors.New("timer durations must not be negative")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TREFFIPELI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "treffipeli",
		Short:         "A server-synchronized keep-or-skip party game for groups of friends.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TREFFIPELI_BIND)")
	fs.DurationVar(&cfg.countdown, "countdown", 3*time.Second, "countdown shown before a game starts (env: TREFFIPELI_COUNTDOWN)")
	fs.DurationVar(&cfg.decisionSettle, "decision-settle", 5*time.Second, "lockout after a trait reveal before decisions unlock (env: TREFFIPELI_DECISION_SETTLE)")
	fs.DurationVar(&cfg.overlayClear, "overlay-clear", 4*time.Second, "lifetime of shared transition overlays (env: TREFFIPELI_OVERLAY_CLEAR)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TREFFIPELI_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TREFFIPELI_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TREFFIPELI_PROFILE)")
	fs.DurationVar(&cfg.revealClose, "reveal-close", 2*time.Second, "delay before a finished trait reveal clears (env: TREFFIPELI_REVEAL_CLOSE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are deleted (env: TREFFIPELI_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.teardownDelay, "teardown-delay", 5*time.Minute, "time after a game ends before its state is deleted (env: TREFFIPELI_TEARDOWN_DELAY)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TREFFIPELI_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TREFFIPELI_TLS_KEY)")
	fs.IntVar(&cfg.traitsPerPlayer, "traits-per-player", 6, "traits each player must submit (env: TREFFIPELI_TRAITS_PER_PLAYER)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TREFFIPELI_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TREFFIPELI_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("treffipeli v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
