package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codersaadi/passvault/internal/breach"
	"github.com/codersaadi/passvault/internal/config"
	"github.com/codersaadi/passvault/internal/logging"
	"github.com/codersaadi/passvault/internal/vault"
)

const (
	AppName = "passvault"
	Version = "1.0.0"
)

// Command line flags.
var (
	configPath    = flag.String("config", "", "config file (default ~/.passvault/config.json)")
	vaultPath     = flag.String("vault", "", "vault file, overrides the configured path")
	serveAPI      = flag.Bool("serve", false, "serve the local JSON API instead of the interactive menu")
	noBreachCheck = flag.Bool("no-breach-check", false, "do not check passwords against the breach database")
	version       = flag.Bool("version", false, "print version")
)

// opener opens the configured vault with a master password.
type opener func(master string) (*vault.Vault, error)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		if _, err := config.EnsureFile(p); err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *vaultPath != "" {
		cfg.VaultPath = *vaultPath
	}
	if *noBreachCheck {
		cfg.BreachCheck = false
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log.Debug().
		Str("config", path).
		Str("vault", cfg.VaultPath).
		Bool("breach_check", cfg.BreachCheck).
		Msg("config loaded")

	if err := os.MkdirAll(filepath.Dir(cfg.VaultPath), 0700); err != nil {
		return errors.Wrap(err, "cannot create vault directory")
	}

	open := newOpener(cfg, newBreachChecker(cfg, log), log)

	if *serveAPI {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return newAPIServer(cfg, open, log).serve(ctx)
	}
	return newCLI(os.Stdin, os.Stdout, open).run(context.Background())
}

func newBreachChecker(cfg *config.Config, log zerolog.Logger) breach.Checker {
	if !cfg.BreachCheck {
		return breach.Nop
	}
	return breach.NewClient(breach.Config{
		BaseURL:   cfg.BreachAPIURL,
		Timeout:   cfg.BreachTimeout(),
		UserAgent: AppName + "/" + Version,
		Logger:    log.With().Str("component", "breach").Logger(),
	})
}

func newOpener(cfg *config.Config, checker breach.Checker, log zerolog.Logger) opener {
	return func(master string) (*vault.Vault, error) {
		return vault.Open(cfg.VaultPath, master,
			vault.WithBreachChecker(checker),
			vault.WithLogger(log.With().Str("component", "vault").Logger()),
		)
	}
}
