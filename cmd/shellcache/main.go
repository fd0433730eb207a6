// Command shellcache runs the Plastic Eliminator offline app shell cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spdeepak/shellcache/internal/command"
	"github.com/spdeepak/shellcache/internal/config"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	env, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.NewApp(env).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
