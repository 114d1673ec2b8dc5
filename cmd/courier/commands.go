package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/bus"
	"github.com/oriys/courier/internal/store"
)

// openBus connects the store and builds a bus for one-shot CLI commands.
func openBus(ctx context.Context) (*bus.Bus, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	b := bus.New(st, nil, cfg.Bus, cfg.Batch)
	return b, st.Close, nil
}

func initCmd() *cobra.Command {
	var domains []string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the queues for one or more domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(domains) == 0 {
				return fmt.Errorf("at least one --domain is required")
			}
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.EnsureTopology(ctx, domains...); err != nil {
				return err
			}
			fmt.Printf("topology ready for %s\n", strings.Join(domains, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "Domain to initialize (repeatable)")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		dom         string
		commandType string
		payload     string
		commandID   string
		correlation string
		replyTo     string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a command",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(payload)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := b.Send(ctx, bus.SendRequest{
				Domain:        dom,
				CommandID:     commandID,
				Type:          commandType,
				Payload:       body,
				CorrelationID: correlation,
				ReplyTo:       replyTo,
				MaxAttempts:   maxAttempts,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Target domain")
	cmd.Flags().StringVar(&commandType, "type", "", "Command type")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload, or @file to read one")
	cmd.Flags().StringVar(&commandID, "id", "", "Command id (generated when empty)")
	cmd.Flags().StringVar(&correlation, "correlation", "", "Correlation id")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "Reply queue name")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Retry budget (0 = configured default)")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("type")
	return cmd
}

func statusCmd() *cobra.Command {
	var (
		dom       string
		commandID string
		withAudit bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a command's state and audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			command, err := b.GetCommand(ctx, dom, commandID)
			if err != nil {
				return err
			}
			printJSON(command)

			if withAudit {
				audit, err := b.GetAudit(ctx, dom, commandID)
				if err != nil {
					return err
				}
				for _, e := range audit {
					fmt.Printf("%s  %-26s %s\n",
						e.CreatedAt.Format(time.RFC3339), e.EventType, string(e.Details))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&commandID, "id", "", "Command id")
	cmd.Flags().BoolVar(&withAudit, "audit", false, "Include the audit trail")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("id")
	return cmd
}

func readPayload(s string) (json.RawMessage, error) {
	var raw []byte
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, err
		}
		raw = data
	} else {
		raw = []byte(s)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return raw, nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
