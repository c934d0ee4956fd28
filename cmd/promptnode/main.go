package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/mashiike/promptnode/cli"

	//builtin providers import
	_ "github.com/mashiike/promptnode/provider/openai"
)

func main() {
	if code := run(context.Background()); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	var c cli.CLI
	return c.Run(ctx)
}
