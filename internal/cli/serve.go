package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"apollorag/internal/httpapi"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API over HTTP",
	RunE:  runServe,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the semantic cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached answer",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(serveCmd, cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answers, sc, err := a.answerer(ctx)
	if err != nil {
		return err
	}

	addr := GetConfig().Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	fmt.Printf("Serving on %s\n", addr)
	return httpapi.NewServer(answers, sc, logger).ListenAndServe(ctx, addr)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.semanticCache()
	if err != nil {
		return err
	}
	if sc == nil {
		fmt.Println("Semantic cache is disabled.")
		return nil
	}

	n, err := sc.Len()
	if err != nil {
		return err
	}
	if err := sc.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Printf("Cleared %d cached answers.\n", n)
	return nil
}
