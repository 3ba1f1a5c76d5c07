package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		secret  = config.Load().JWTSecret
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "jwt-secret", secret, "HS256 secret (defaults to JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
