// Package cli implements the focusctl command tree.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/ashureev/focus-labs/internal/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	addr       string
	healthAddr string
	timeout    time.Duration
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:           "focusctl",
	Short:         "Control a running focusd attention tracker",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "focusd base URL (default $FOCUS_ADDR or "+client.DefaultAddr+")")
	rootCmd.PersistentFlags().StringVar(&healthAddr, "health-addr", "", "gRPC health address (default $FOCUS_HEALTH_ADDR or localhost:8788)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	a := addr
	if a == "" {
		a = os.Getenv("FOCUS_ADDR")
	}
	return client.New(a)
}

func resolvedHealthAddr() string {
	if healthAddr != "" {
		return healthAddr
	}
	if v := os.Getenv("FOCUS_HEALTH_ADDR"); v != "" {
		return v
	}
	return "localhost:8788"
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
