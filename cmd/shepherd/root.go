package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hfi/secret-shepherd/internal/audit"
	"github.com/hfi/secret-shepherd/internal/config"
	"github.com/hfi/secret-shepherd/internal/engine"
	"github.com/hfi/secret-shepherd/internal/githook"
	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/internal/secrets"
	"github.com/hfi/secret-shepherd/internal/store"
	"github.com/hfi/secret-shepherd/internal/values"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

type appState struct {
	cfg    *config.Config
	store  store.Store
	static *values.StaticProvider
	eng    *engine.Engine
	guard  *githook.Guard
	logger zerolog.Logger
}

func newRootCmd(state *appState) *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:          "shepherd",
		Short:        "Track, stash and mask secrets across workspace files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return setupState(state, cfgPath)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if state.store == nil {
				return nil
			}
			return state.store.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	rootCmd.AddCommand(newAddCmd(state))
	rootCmd.AddCommand(newListCmd(state))
	rootCmd.AddCommand(newForgetCmd(state))
	rootCmd.AddCommand(newRotateCmd(state))
	rootCmd.AddCommand(newStashCmd(state))
	rootCmd.AddCommand(newUnstashCmd(state))
	rootCmd.AddCommand(newMaskCmd(state))
	rootCmd.AddCommand(newResolveCmd(state))
	rootCmd.AddCommand(newWatchCmd(state))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func setupState(state *appState, cfgPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFile(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	state.cfg = cfg
	state.logger = newLogger(cfg.Logging.Level)

	hasher, err := hashing.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening hashing salt: %w", err)
	}
	syntax, err := anchor.NewSyntax(cfg.Anchor.Prefix)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	state.store = st

	state.static = values.NewStaticProvider(cfg.Values.Static)
	registry := values.NewRegistry(values.EnvProvider{}, state.static)
	fetcher := values.NewFetcher(registry, cfg.Values.ParallelFetch, state.logger)

	var hook githook.Notifier = githook.NopNotifier{}
	if cfg.Git.GuardHook {
		state.guard = githook.NewGuard(cfg.Git.RepoDir, state.logger)
		hook = state.guard
	}

	limits := secrets.Limits{
		MinSecretLength: cfg.Limits.MinSecretLength,
		MaxPathLength:   cfg.Limits.MaxPathLength,
	}
	state.eng = engine.New(st, hasher, syntax, fetcher, hook,
		audit.NewLogger(cfg.Logging.Audit, state.logger), limits, state.logger)
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
}

func parseType(s string) (secrets.Type, error) {
	switch secrets.Type(strings.ToLower(s)) {
	case secrets.TypeEnvironment:
		return secrets.TypeEnvironment, nil
	case secrets.TypeStatic, "":
		return secrets.TypeStatic, nil
	case secrets.TypeVault:
		return secrets.TypeVault, nil
	case secrets.TypeStorageKey:
		return secrets.TypeStorageKey, nil
	case secrets.TypeCustom:
		return secrets.TypeCustom, nil
	default:
		return "", fmt.Errorf("unknown secret type %q", s)
	}
}

func parseControl(s string) (secrets.ControlType, error) {
	switch secrets.ControlType(strings.ToLower(s)) {
	case secrets.Managed, "":
		return secrets.Managed, nil
	case secrets.Supervised:
		return secrets.Supervised, nil
	default:
		return "", fmt.Errorf("unknown control type %q (managed or supervised)", s)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("secret-shepherd %s\n", Version)
			fmt.Printf("Git Commit: %s\n", GitCommit)
			fmt.Printf("Build Time: %s\n", BuildTime)
			return nil
		},
	}
}
