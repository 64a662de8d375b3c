package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderfeed/tender-cli/internal/ingest"
	"github.com/tenderfeed/tender-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run an ingestion from the release API or a bulk file",
	Long:  "Each ingest command records one ingestion run, prints its result as JSON, and exits non-zero when the run did not succeed.",
}

// -- ingest api --

var ingestAPICmd = &cobra.Command{
	Use:   "api",
	Short: "Ingest one page of the OCDS release API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		res, err := env.Service.RunAPI(ctx, ingest.APIRequest{
			PageNumber: page,
			PageSize:   size,
			DateFrom:   from,
			DateTo:     to,
		})
		if err != nil {
			return eris.Wrap(err, "ingest api")
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

// -- ingest file --

var ingestFileCmd = &cobra.Command{
	Use:   "file <path-or-url>",
	Short: "Ingest a bulk XLSX, CSV or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		runID, _ := cmd.Flags().GetInt64("run")
		res, err := env.Service.RunFile(ctx, fileSource(args[0]), runID)
		if err != nil {
			return eris.Wrap(err, "ingest file")
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

// -- ingest backfill --

var ingestBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill from a file URL, a portal file name, or an API date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := backfillRequest(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Backfill(ctx, req)
		if err != nil {
			return eris.Wrap(err, "ingest backfill")
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

// backfillRequest reads the backfill flags and validates them before any
// connection is opened.
func backfillRequest(cmd *cobra.Command) (ingest.BackfillRequest, error) {
	var req ingest.BackfillRequest
	req.FileURL, _ = cmd.Flags().GetString("file-url")
	req.FileName, _ = cmd.Flags().GetString("file-name")
	req.DateFrom, _ = cmd.Flags().GetString("from")
	req.DateTo, _ = cmd.Flags().GetString("to")
	req.PageSize, _ = cmd.Flags().GetInt("page-size")
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		req.File = &ingest.FileSource{Path: file}
	}
	return req, req.Validate()
}

// fileSource treats http(s) arguments as URLs and anything else as a path.
func fileSource(arg string) ingest.FileSource {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return ingest.FileSource{URL: arg}
	}
	return ingest.FileSource{Path: arg}
}

func printResult(w io.Writer, res model.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return eris.Wrap(err, "encode result")
	}
	if !res.Success {
		return eris.Errorf("run %d finished with %d failed items", res.RunID, res.ItemsFailed)
	}
	return nil
}

func init() {
	ingestAPICmd.Flags().Int("page", 1, "API page number")
	ingestAPICmd.Flags().Int("page-size", 0, "API page size (default from config)")
	ingestAPICmd.Flags().String("from", "", "dateFrom filter (YYYY-MM-DD)")
	ingestAPICmd.Flags().String("to", "", "dateTo filter (YYYY-MM-DD)")

	ingestFileCmd.Flags().Int64("run", 0, "existing open run id to finalize")

	ingestBackfillCmd.Flags().String("file", "", "local bulk file")
	ingestBackfillCmd.Flags().String("file-url", "", "remote bulk file URL")
	ingestBackfillCmd.Flags().String("file-name", "", "eTenders portal bulk file name")
	ingestBackfillCmd.Flags().String("from", "", "API backfill start date (YYYY-MM-DD)")
	ingestBackfillCmd.Flags().String("to", "", "API backfill end date (YYYY-MM-DD)")
	ingestBackfillCmd.Flags().Int("page-size", ingest.DefaultPageSize, "API backfill page size")

	ingestCmd.AddCommand(ingestAPICmd)
	ingestCmd.AddCommand(ingestFileCmd)
	ingestCmd.AddCommand(ingestBackfillCmd)
	rootCmd.AddCommand(ingestCmd)
}
