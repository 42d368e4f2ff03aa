package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/api"
	"github.com/nhle/maildesk/internal/credential"
	"github.com/nhle/maildesk/internal/mail"
	"github.com/nhle/maildesk/internal/model"
	"github.com/nhle/maildesk/internal/service"
	"github.com/nhle/maildesk/internal/session"
	"github.com/nhle/maildesk/internal/store"
)

const shutdownTimeout = 10 * time.Second

// env is what every command gets after the global flags are processed.
type env struct {
	cfg *model.AppConfig
	log *zap.Logger
}

func main() {
	var e env

	app := &cli.App{
		Name:  "maildesk",
		Usage: "session and credential backend for the maildesk desktop client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Configuration file to use",
				EnvVars: []string{"MAILDESK_CONFIG"},
				Value:   model.DefaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := model.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			if lvl := ctx.String("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			e = env{cfg: cfg, log: log}
			return nil
		},
		After: func(*cli.Context) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the local command API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Override the configured listen `ADDRESS`",
					},
				},
				Action: func(ctx *cli.Context) error {
					if addr := ctx.String("listen"); addr != "" {
						e.cfg.Server.Listen = addr
					}
					return serve(ctx.Context, e)
				},
			},
			{
				Name:      "detect",
				Usage:     "Suggest mail server settings for an address",
				ArgsUsage: "EMAIL",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return cli.Exit("detect takes exactly one EMAIL argument", 2)
					}
					return detect(ctx.Context, e, ctx.Args().First())
				},
			},
			{
				Name:  "accounts",
				Usage: "List accounts that have logged in",
				Action: func(ctx *cli.Context) error {
					return listAccounts(ctx.Context, e)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "maildesk:", err)
		os.Exit(1)
	}
}

func openStore(cfg model.StoreConfig) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.NewSQLiteStore(cfg.Path)
}

func serve(ctx context.Context, e env) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := credential.Open(e.cfg.Keyring, e.log)
	if err != nil {
		return err
	}

	accounts, err := openStore(e.cfg.Store)
	if err != nil {
		return err
	}
	defer accounts.Close()

	engine := mail.NewEngine(mail.Options{
		DialTimeout:  e.cfg.Mail.DialTimeout(),
		Hostname:     e.cfg.Mail.Hostname,
		SanitizeHTML: e.cfg.Mail.SanitizeHTML,
		Logger:       e.log,
	})

	usage := service.NewUsageRecorder(accounts, e.cfg.Store.FlushInterval(), e.log)
	usage.Start()
	defer usage.Stop()

	opts := service.Options{
		Credentials: creds,
		Engine:      engine,
		Sessions:    session.New(creds, engine, e.log),
		Accounts:    accounts,
		Usage:       usage,
		Logger:      e.log,
	}
	if detector, err := mail.NewDetector(nil, e.log); err != nil {
		e.log.Warn("server autodetection disabled", zap.Error(err))
	} else {
		opts.Detector = detector
	}

	srv := api.New(service.New(opts), e.log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(e.cfg.Server.Listen) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving on %s: %w", e.cfg.Server.Listen, err)
		}
		return nil
	case <-ctx.Done():
	}

	e.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func detect(ctx context.Context, e env, email string) error {
	detector, err := mail.NewDetector(nil, e.log)
	if err != nil {
		return err
	}

	cfg, err := detector.Detect(ctx, email)
	if err != nil {
		return err
	}
	return printJSON(cfg)
}

func listAccounts(ctx context.Context, e env) error {
	accounts, err := openStore(e.cfg.Store)
	if err != nil {
		return err
	}
	defer accounts.Close()

	svc := service.New(service.Options{Accounts: accounts, Logger: e.log})
	list, err := svc.ListAccounts(ctx)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
