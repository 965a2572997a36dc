package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/petrijr/dealflow"
	"github.com/petrijr/dealflow/internal/taskqueue"
)

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "Inspect and drain the side-effect queues",
	}
	queuesCmd.AddCommand(newQueuesRunCommand(ctx))
	return queuesCmd
}

func newQueuesRunCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one batch of every queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be non-negative")
			}
			return ctx.withBundle(cmd.Context(), func(bundle *dealflow.Bundle) error {
				res, err := bundle.Processor.ProcessAll(cmd.Context(), limit)
				fmt.Fprint(cmd.OutOrStdout(), renderResults(res))
				return err
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", taskqueue.DefaultBatchSize, "Rows per queue")
	return cmd
}

func renderResults(res taskqueue.Results) string {
	total := res.Total()
	row := func(name string, processed, failed int) []string {
		return []string{name, strconv.Itoa(processed), strconv.Itoa(failed)}
	}
	rows := [][]string{
		row("notifications", res.Notifications.Processed, res.Notifications.Failed),
		row("webhooks", res.Webhooks.Processed, res.Webhooks.Failed),
		row("schedules", res.Schedules.Processed, res.Schedules.Failed),
		row("tasks", res.Tasks.Processed, res.Tasks.Failed),
		row("total", total.Processed, total.Failed),
	}
	return renderTable([]string{"Queue", "Processed", "Failed"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}
