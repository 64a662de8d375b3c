package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
	Long:  "Commands for listing, viewing, sweeping and pruning ingestion runs and their error log.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Source: model.RunSource(source),
			State:  model.RunState(state),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("run", args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.IngestionRun
			State model.RunState `json:"state"`
		}{run, run.State()})
	},
}

// -- runs errors --

var runsErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List ingestion errors, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetInt64("run")
		limit, _ := cmd.Flags().GetInt("limit")

		errs, err := st.ListErrors(ctx, store.ErrorFilter{RunID: runID, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs errors")
		}

		if len(errs) == 0 {
			fmt.Fprintln(os.Stderr, "No errors found.")
			return nil
		}

		formatErrorsList(cmd.OutOrStdout(), errs)
		return nil
	},
}

// -- runs sweep --

var runsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close runs left open past ingest.stale_after_mins as failed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.SweepStaleRuns(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %d stale run(s).\n", n)
		return nil
	},
}

// -- runs prune --

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than a cutoff, keeping their errors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("--older-than must be positive")
		}
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.PruneRuns(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s).\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by run source (api, bulk)")
	runsListCmd.Flags().String("state", "", "filter by run state (running, succeeded, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsErrorsCmd.Flags().Int64("run", 0, "only errors of this run")
	runsErrorsCmd.Flags().Int("limit", 50, "max number of errors to display")

	runsPruneCmd.Flags().Duration("older-than", 90*24*time.Hour, "prune runs started before now minus this window")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsErrorsCmd)
	runsCmd.AddCommand(runsSweepCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

// parseID reads a positive row id argument.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, eris.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.IngestionRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATE\tINGESTED\tFAILED\tSTARTED\tDURATION\tDETAILS")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t--------\t------\t-------\t--------\t-------")

	for i := range runs {
		r := &runs[i]
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Source,
			r.State(),
			r.ItemsIngested,
			r.ItemsFailed,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			ellipsize(r.Details, 60),
		)
	}
	_ = w.Flush()
}

// formatErrorsList writes a tabular list of ingestion errors to w.
func formatErrorsList(out io.Writer, errs []model.IngestionError) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tRELEASE\tOCCURRED\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--\t---\t-------\t--------\t-------")

	for _, e := range errs {
		run := "-"
		if e.RunID != nil {
			run = strconv.FormatInt(*e.RunID, 10)
		}
		release := e.ReleaseID
		if release == "" {
			release = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID,
			run,
			release,
			e.OccurredAt.Format("2006-01-02 15:04"),
			ellipsize(e.Message, 80),
		)
	}
	_ = w.Flush()
}

// ellipsize flattens s to one line of at most n runes.
func ellipsize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
