package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/bus"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch operations",
	}
	cmd.AddCommand(batchCreateCmd(), batchStatsCmd())
	return cmd
}

// batchFileEntry is one command in a batch file: a JSON array of
// {"type": ..., "payload": {...}} objects.
type batchFileEntry struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CommandID   string          `json:"command_id,omitempty"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

func batchCreateCmd() *cobra.Command {
	var (
		dom   string
		name  string
		file  string
		chunk int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a batch from a JSON file of commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var entries []batchFileEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			reqs := make([]bus.SendRequest, len(entries))
			for i, e := range entries {
				reqs[i] = bus.SendRequest{
					CommandID:   e.CommandID,
					Type:        e.Type,
					Payload:     e.Payload,
					ReplyTo:     e.ReplyTo,
					MaxAttempts: e.MaxAttempts,
				}
			}

			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			batchID, err := b.CreateBatch(ctx, bus.BatchRequest{
				Domain:    dom,
				Name:      name,
				Commands:  reqs,
				ChunkSize: chunk,
			})
			if err != nil {
				return err
			}
			fmt.Println(batchID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&name, "name", "", "Batch name")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with the commands")
	cmd.Flags().IntVar(&chunk, "chunk-size", 0, "Commands per transaction (0 = configured default)")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("file")
	return cmd
}

func batchStatsCmd() *cobra.Command {
	var dom, id string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Refresh and print a batch's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := b.RefreshBatchStats(ctx, dom, id)
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&id, "id", "", "Batch id")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("id")
	return cmd
}
