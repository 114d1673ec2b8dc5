package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func tsqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tsq",
		Short: "Troubleshooting queue operations",
	}
	cmd.AddCommand(tsqListCmd(), tsqRetryCmd(), tsqCancelCmd(), tsqCompleteCmd())
	return cmd
}

func tsqListCmd() *cobra.Command {
	var (
		dom   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commands awaiting operator intervention",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			cmds, err := b.ListTroubleshooting(ctx, dom, limit)
			if err != nil {
				return err
			}
			if len(cmds) == 0 {
				fmt.Println("troubleshooting queue is empty")
				return nil
			}
			for _, c := range cmds {
				errText := ""
				if c.LastError != nil {
					errText = fmt.Sprintf("  [%s] %s: %s", c.LastError.Kind, c.LastError.Code, c.LastError.Message)
				}
				fmt.Printf("%s  %s  %s  attempts %d/%d%s\n",
					c.UpdatedAt.Format(time.RFC3339), c.CommandID, c.CommandType,
					c.Attempts, c.MaxAttempts, errText)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func tsqRetryCmd() *cobra.Command {
	var dom, id string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue a troubleshooting command with its original payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.OperatorRetry(ctx, dom, id); err != nil {
				return err
			}
			fmt.Printf("command %s requeued\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&id, "id", "", "Command id")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("id")
	return cmd
}

func tsqCancelCmd() *cobra.Command {
	var dom, id, reason string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a troubleshooting command",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.OperatorCancel(ctx, dom, id, reason); err != nil {
				return err
			}
			fmt.Printf("command %s canceled\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&id, "id", "", "Command id")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the command is being canceled")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("id")
	return cmd
}

func tsqCompleteCmd() *cobra.Command {
	var dom, id, result string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a troubleshooting command completed out of band",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(result)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, closeFn, err := openBus(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.OperatorComplete(ctx, dom, id, body); err != nil {
				return err
			}
			fmt.Printf("command %s completed\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "Domain")
	cmd.Flags().StringVar(&id, "id", "", "Command id")
	cmd.Flags().StringVar(&result, "result", "{}", "Result JSON for the reply, or @file")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("id")
	return cmd
}
