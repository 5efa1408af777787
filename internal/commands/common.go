package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"fluorite-memory/internal/engine"
	"fluorite-memory/internal/platform/config"
	"fluorite-memory/internal/platform/logger"
)

// AppContext holds what every command needs: settings, a logger and an open engine.
type AppContext struct {
	Config *config.Config
	Logger *slog.Logger
	Engine *engine.MemoryEngine
	Out    io.Writer
}

// LoadSettings reads the env file named by --env and applies flag overrides.
func LoadSettings(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.IsSet("data") {
		cfg.Storage.Path = cmd.String("data")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.Bool("no-search") {
		cfg.Search.Enabled = false
	}
	return cfg, nil
}

// NewAppContext loads settings and opens the engine. Callers must Close it.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	cfg, err := LoadSettings(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cmd.Root().ErrWriter,
	})

	e, err := engine.New(ctx, engine.ConfigFrom(cfg), engine.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open engine at %s: %w", cfg.Storage.Path, err)
	}
	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	return &AppContext{Config: cfg, Logger: log, Engine: e, Out: out}, nil
}

func (ac *AppContext) Close() {
	if err := ac.Engine.Close(); err != nil {
		ac.Logger.Error("engine close failed", "err", err)
	}
}

func (ac *AppContext) printJSON(v any) error {
	enc := json.NewEncoder(ac.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens an AppContext around fn.
func withApp(fn func(ctx context.Context, cmd *cli.Command, ac *AppContext) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		ac, err := NewAppContext(ctx, cmd)
		if err != nil {
			return err
		}
		defer ac.Close()
		return fn(ctx, cmd, ac)
	}
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s: missing <%s> argument", cmd.Name, name)
	}
	return v, nil
}
