package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/authz"
)

func newPoliciesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage access policies",
	}

	load := &cobra.Command{
		Use:   "load <file>",
		Short: "Sync policies from a YAML seed file",
		Long: `Create or update the policies listed in a YAML seed file, matched by name.
Policies missing from the file are left untouched. Loading the same file
twice changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.outputFmt)
			if err != nil {
				return err
			}
			a, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := syncSeed(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), format, report,
				[]string{"VERSION", "CREATED", "UPDATED", "UNCHANGED"},
				[][]string{{
					truncate(report.Version, 12),
					strconv.Itoa(report.Created),
					strconv.Itoa(report.Updated),
					strconv.Itoa(report.Unchanged),
				}})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List policies in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.outputFmt)
			if err != nil {
				return err
			}
			a, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			policies, err := a.policies.List(cmd.Context(), false)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(policies))
			for _, p := range policies {
				rows = append(rows, []string{
					p.ID,
					p.Name,
					strconv.Itoa(p.Priority),
					string(p.Action),
					strconv.FormatBool(p.Active),
				})
			}
			return printOutput(cmd.OutOrStdout(), format, policies,
				[]string{"ID", "NAME", "PRIORITY", "ACTION", "ACTIVE"}, rows)
		},
	}

	cmd.AddCommand(load, list)
	return cmd
}

func syncSeed(ctx context.Context, a *app, path string) (*access.SyncReport, error) {
	report, err := a.policies.SyncFile(ctx, path, authz.SystemActor())
	if err != nil {
		return nil, fmt.Errorf("sync policies from %s: %w", path, err)
	}
	a.logger.Info("policy seed synced", "path", path, "version", report.Version,
		"created", report.Created, "updated", report.Updated, "unchanged", report.Unchanged)
	return report, nil
}
