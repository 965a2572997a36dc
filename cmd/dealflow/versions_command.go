package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/dealflow"
	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
)

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage workflow template versions",
	}

	versionsCmd.AddCommand(newVersionsCreateCommand(ctx))
	versionsCmd.AddCommand(newVersionsListCommand(ctx))
	versionsCmd.AddCommand(newVersionsActivateCommand(ctx))

	return versionsCmd
}

func newVersionsCreateCommand(ctx *commandContext) *cobra.Command {
	var in versioning.CreateVersionInput

	cmd := &cobra.Command{
		Use:   "create <template.yaml>",
		Short: "Store a template file as a new workflow version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			in.Source = string(source)

			return ctx.withBundle(cmd.Context(), func(bundle *dealflow.Bundle) error {
				v, err := bundle.Registry.CreateVersion(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderVersions([]*api.WorkflowVersion{v}))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.Version, "version", "", "Version label (defaults to the next number)")
	cmd.Flags().StringVar(&in.Title, "title", "", "Version title")
	cmd.Flags().StringVar(&in.Description, "description", "", "Version description")
	cmd.Flags().StringVar(&in.CreatedBy, "created-by", "", "Author recorded on the version")
	cmd.Flags().BoolVar(&in.Activate, "activate", false, "Make the new version active")
	return cmd
}

func newVersionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List the versions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBundle(cmd.Context(), func(bundle *dealflow.Bundle) error {
				versions, err := bundle.Registry.ListVersions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(versions) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No versions of %s\n", args[0])
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderVersions(versions))
				return nil
			})
		},
	}
}

func newVersionsActivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <workflow-id> <version-id>",
		Short: "Make a version the active one of its workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBundle(cmd.Context(), func(bundle *dealflow.Bundle) error {
				v, err := bundle.Registry.ActivateVersion(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Activated %s version %s (%s)\n", v.WorkflowID, v.Version, v.ID)
				return nil
			})
		},
	}
}

func renderVersions(versions []*api.WorkflowVersion) string {
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		checksum := v.Checksum
		if len(checksum) > 12 {
			checksum = checksum[:12]
		}
		rows = append(rows, []string{
			v.ID,
			v.WorkflowID,
			v.Version,
			yesNo(v.IsActive),
			checksum,
			v.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Workflow", "Version", "Active", "Checksum", "Created"},
		rows,
		nil,
	)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
