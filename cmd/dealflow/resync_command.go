package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrijr/dealflow"
)

func newResyncCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var skip []string

	cmd := &cobra.Command{
		Use:   "resync [deal-id]",
		Short: "Move deals onto the active version and replay entry actions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a deal id or --all")
			}
			return ctx.withBundle(cmd.Context(), func(bundle *dealflow.Bundle) error {
				out := cmd.OutOrStdout()
				if !all {
					res, err := bundle.Service.ResyncDeal(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Resynced %s at %s onto version %s\n", res.DealID, res.NewStatus, res.WorkflowVersionID)
					return nil
				}

				for i := range skip {
					skip[i] = strings.ToUpper(strings.TrimSpace(skip[i]))
				}
				report, err := bundle.Service.ResyncAll(cmd.Context(), bundle.Persistence.Lister, skip...)
				if err != nil {
					return err
				}
				fmt.Fprint(out, renderSyncReport(report))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Resync every deal")
	cmd.Flags().StringSliceVar(&skip, "skip-status", nil, "Statuses to leave alone with --all")
	return cmd
}

func renderSyncReport(report *dealflow.SyncReport) string {
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Total", "Processed", "Failed"},
		[][]string{{strconv.Itoa(report.Total), strconv.Itoa(report.Processed), strconv.Itoa(report.Failed)}},
		[]columnAlignment{alignRight, alignRight, alignRight},
	))
	if len(report.Errors) == 0 {
		return b.String()
	}

	ids := make([]string, 0, len(report.Errors))
	for id := range report.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id, report.Errors[id]})
	}
	b.WriteString(renderTable([]string{"Deal", "Error"}, rows, nil))
	return b.String()
}
