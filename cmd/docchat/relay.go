package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat/internal/bootstrap"
	"docchat/internal/config"
	"docchat/internal/server"
	"docchat/internal/service"
	"docchat/internal/tracer"

	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	var (
		port        string
		broker      string
		answerDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the development chat backend",
		Long: "Serves the chat REST endpoints and STOMP over WebSocket on one port. " +
			"Answers echo the question back; use --broker to fan frames out across several relays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.Relay.Port = port
			}
			if broker != "" {
				cfg.Relay.Broker = broker
			}
			return runRelay(cmd.Context(), cfg, service.EchoAnswerer{Delay: answerDelay})
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default from APP_PORT)")
	cmd.Flags().StringVar(&broker, "broker", "", "cross-instance fan-out: none, redis or nats (default from RELAY_BROKER)")
	cmd.Flags().DurationVar(&answerDelay, "answer-delay", 0, "simulated thinking time before each answer")
	return cmd
}

func runRelay(ctx context.Context, cfg *config.Config, answerer service.Answerer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.NewContainer(cfg, answerer)
	if err != nil {
		return err
	}
	defer container.Close()

	shutdownTracer := tracer.InitTracer("docchat-relay", cfg.Relay, container.Logger)
	defer shutdownTracer(context.Background())

	container.Start()
	srv := server.New(cfg, container)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		container.Logger.Info("Server", "Shutting down relay", nil)
		return srv.Shutdown()
	}
}
