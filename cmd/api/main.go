// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/canvas-chat/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:          "canvas-chat",
		Short:        "Conversation streaming and document canvas API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load(v))
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "HTTP listen port (PORT)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.String("store", "", "storage driver: memory, bolt or mongo (STORE_DRIVER)")
	flags.String("event-bus", "", "event relay: local, nats or redis (EVENT_BUS)")
	flags.String("provider", "", "LLM provider: openai or anthropic (LLM_PROVIDER)")

	_ = v.BindPFlag("PORT", flags.Lookup("port"))
	_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))
	_ = v.BindPFlag("STORE_DRIVER", flags.Lookup("store"))
	_ = v.BindPFlag("EVENT_BUS", flags.Lookup("event-bus"))
	_ = v.BindPFlag("LLM_PROVIDER", flags.Lookup("provider"))

	return cmd
}
