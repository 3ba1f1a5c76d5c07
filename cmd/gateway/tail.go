package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/events"
)

func newTailCmd() *cobra.Command {
	defaults := config.Load()
	natsURL := defaults.NATSURL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	subject := defaults.NATSPrefix + ".>"

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print gateway events published on NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			out := json.NewEncoder(cmd.OutOrStdout())
			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				e, err := events.Decode(msg.Data)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", msg.Subject, err)
					return
				}
				out.Encode(struct {
					Subject string       `json:"subject"`
					Event   events.Event `json:"event"`
				}{msg.Subject, e})
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
			}
			defer sub.Unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", natsURL, "NATS URL")
	cmd.Flags().StringVar(&subject, "subject", subject, "Subject to subscribe to")

	return cmd
}
