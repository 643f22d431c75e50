package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/archivum/docflow/pkg/jobs"
)

func newRunCmd(c *cli) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "run <routine>",
		Short: "Run one maintenance routine for the current period",
		Long: `Run one maintenance routine now. The run is recorded like a scheduled one:
if the routine already succeeded for the current period nothing happens.

Routines: detect_access_anomalies, detect_download_anomalies, expire_requests,
advance_reminders, cleanup_alerts, audit_retention, job_history_retention.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.outputFmt)
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			a, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			run, ran, runErr := a.scheduler.RunOnce(cmd.Context(), args[0], now)
			if run == nil {
				return runErr
			}
			if !ran {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s already handled for this period\n", args[0])
			}
			if err := printRuns(cmd.OutOrStdout(), format, []jobs.JobRun{*run}); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Evaluation time (RFC3339); defaults to now")
	return cmd
}

func newJobsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect recorded routine runs",
	}

	var (
		routine  string
		state    string
		pageSize int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List routine runs, newest first",
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

			runs, _, total, err := a.runs.List(cmd.Context(), jobs.RunListFilter{
				Routine: routine,
				State:   state,
			}, pageSize, "")
			if err != nil {
				return err
			}
			if err := printRuns(cmd.OutOrStdout(), format, runs); err != nil {
				return err
			}
			if format == outputTable && total > len(runs) {
				fmt.Fprintf(cmd.ErrOrStderr(), "showing %d of %d runs\n", len(runs), total)
			}
			return nil
		},
	}
	list.Flags().StringVar(&routine, "routine", "", "Only runs of this routine")
	list.Flags().StringVar(&state, "state", "", "Only runs in this state: running, succeeded, failed")
	list.Flags().IntVar(&pageSize, "limit", 50, "Maximum number of runs")
	cmd.AddCommand(list)
	return cmd
}

func printRuns(w io.Writer, format outputFormat, runs []jobs.JobRun) error {
	headers := []string{"ID", "ROUTINE", "PERIOD", "STATE", "ATTEMPTS", "FINISHED", "ERROR"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			r.ID,
			r.Routine,
			r.PeriodKey,
			string(r.State),
			strconv.Itoa(r.AttemptCount),
			finished,
			truncate(r.LastError, 60),
		})
	}
	return printOutput(w, format, runs, headers, rows)
}
