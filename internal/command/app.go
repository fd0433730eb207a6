// Package command builds the shellcache command line.
package command

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spdeepak/shellcache/internal/config"
	"github.com/urfave/cli/v3"
)

// NewApp returns the root command. env supplies flag defaults.
func NewApp(env config.Env) *cli.Command {
	return &cli.Command{
		Name:  "shellcache",
		Usage: "Offline app shell cache for Plastic Eliminator",
		Commands: []*cli.Command{
			ServeCommand(env),
			GenerationsCommand(env),
		},
	}
}

// NewLogger returns a text logger at level ("debug", "info", "warn", "error").
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
