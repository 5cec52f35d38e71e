package main

import (
	"context"
	"os"

	"apollorag/internal/cli"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	// API keys may live in a local .env file.
	_ = godotenv.Load()

	ctx := context.Background()
	rootCmd := cli.RootCmd()
	rootCmd.Version = version
	if err := fang.Execute(ctx, rootCmd); err != nil {
		os.Exit(1)
	}
}
