package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <task>",
		Short: "Submit a task to a running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			created, err := client.execute(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s (%s)\n", green("Submitted"), bold(created.TaskID), created.Status)
			if !wait {
				return nil
			}
			final, err := follow(cmd.Context(), client, created.TaskID, interval, out)
			if err != nil {
				return err
			}
			if !final.Success {
				return fmt.Errorf("task %s failed", final.TaskID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "follow the task until it finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval while waiting")
	addServerFlag(cmd)
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			st, err := client.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	addServerFlag(cmd)
	return cmd
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (default derived from server.addr)")
}

func (o *rootOptions) client(cmd *cobra.Command) (*apiClient, error) {
	base, _ := cmd.Flags().GetString("server")
	if base == "" {
		cfg, err := o.load()
		if err != nil {
			return nil, err
		}
		base = serverURL(cfg.Server.Addr)
	}
	return newAPIClient(base), nil
}

// follow polls the task until it is terminal, printing log lines as they
// appear.
func follow(ctx context.Context, client *apiClient, taskID string, interval time.Duration, out io.Writer) (statusResult, error) {
	if interval <= 0 {
		interval = time.Second
	}
	printed := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := client.status(ctx, taskID)
		if err != nil {
			return statusResult{}, err
		}
		if printed > len(st.Logs) {
			printed = 0
		}
		for _, entry := range st.Logs[printed:] {
			printLog(out, entry)
		}
		printed = len(st.Logs)

		if st.terminal() {
			printStatus(out, st)
			return st, nil
		}
		select {
		case <-ctx.Done():
			return statusResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printLog(out io.Writer, entry logLine) {
	var marker string
	switch entry.Type {
	case "success":
		marker = green("✓")
	case "warning":
		marker = yellow("!")
	case "error":
		marker = red("✗")
	case "step":
		marker = cyan("→")
	default:
		marker = blue("•")
	}
	if entry.Details == "" {
		fmt.Fprintf(out, "%s %s\n", marker, entry.Title)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", marker, entry.Title, gray(entry.Details))
}

func printStatus(out io.Writer, st statusResult) {
	status := st.Status
	switch st.Status {
	case "completed":
		status = green(status)
	case "failed":
		status = red(status)
	default:
		status = yellow(status)
	}
	fmt.Fprintf(out, "%s %s\n", bold("Task:"), st.TaskID)
	fmt.Fprintf(out, "%s %s\n", bold("Goal:"), st.Description)
	fmt.Fprintf(out, "%s %s\n", bold("Status:"), status)
	fmt.Fprintf(out, "%s %d (retries: %d)\n", bold("Steps:"), st.StepsExecuted, st.RetryCount)
	if st.CurrentStep != nil {
		fmt.Fprintf(out, "%s %d %s %s\n", bold("Current:"), st.CurrentStep.Index, st.CurrentStep.Action, gray(st.CurrentStep.Description))
	}
	if st.Verification != nil {
		fmt.Fprintf(out, "%s %s\n", bold("Verification:"), *st.Verification)
	}
}
