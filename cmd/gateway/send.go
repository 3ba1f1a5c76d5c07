package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"openhl7/gateway/internal/client"
	"openhl7/gateway/internal/config"
)

func newSendCmd() *cobra.Command {
	var (
		addr    string
		message string
		timeout time.Duration
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "send [file|-]",
		Short: "Send one HL7 message over MLLP and print the ACK",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				if len(args) == 0 {
					return fmt.Errorf("a message file, - for stdin, or --message is required")
				}
				data, err := readInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				message = string(data)
			}
			message = strings.TrimRight(message, "\r\n")

			ack, err := client.New(timeout).Send(cmd.Context(), addr, message)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.ReplaceAll(ack, "\r", "\n"))

			if code := client.AckCode(ack); strict && code != "AA" {
				return fmt.Errorf("message not accepted: %s", code)
			}
			return nil
		},
	}

	defaults := config.Load()
	cmd.Flags().StringVar(&addr, "addr", defaults.ListenAddr(), "Listener address host:port")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message text (segments separated by newlines)")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Time to wait for the ACK")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero unless the ACK code is AA")

	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return data, nil
}
