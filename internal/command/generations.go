package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spdeepak/shellcache/cache"
	"github.com/spdeepak/shellcache/cache/sqlite"
	"github.com/spdeepak/shellcache/internal/config"
	"github.com/urfave/cli/v3"
)

// GenerationsCommand lists the cache generations persisted in a database.
func GenerationsCommand(env config.Env) *cli.Command {
	return &cli.Command{
		Name:  "generations",
		Usage: "list cache generations stored in a SQLite cache file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: env.DB, Usage: "SQLite cache file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := strings.TrimSpace(cmd.String("db"))
			if path == "" {
				return errors.New("--db is required")
			}
			registry, err := sqlite.Open(path)
			if err != nil {
				return fmt.Errorf("open cache db: %w", err)
			}
			defer registry.Close()
			return listGenerations(ctx, cmd.Root().Writer, registry)
		},
	}
}

func listGenerations(ctx context.Context, out io.Writer, registry cache.Registry) error {
	names, err := registry.Names(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tENTRIES\tSIZE")
	for _, name := range names {
		store, err := registry.Open(ctx, name)
		if err != nil {
			return fmt.Errorf("open generation %q: %w", name, err)
		}
		count, size, err := cache.Usage(ctx, store)
		if err != nil {
			return fmt.Errorf("usage of %q: %w", name, err)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, count, humanize.Bytes(uint64(size)))
	}
	return tw.Flush()
}
