package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderfeed/tender-cli/internal/match"
	"github.com/tenderfeed/tender-cli/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score <tender-id>",
	Short: "Score a stored tender against a supplier profile",
	Long:  "Loads the tender with its procuring entity and computes a fresh 0-100 match score. Without --profile the anonymous default profile is used.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initIngest(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		profile := model.AnonymousProfile()
		if id, _ := cmd.Flags().GetInt64("profile"); id > 0 {
			p, err := env.Store.GetProfile(ctx, id)
			if err != nil {
				return eris.Wrap(err, "score")
			}
			profile = *p
		}

		b, err := env.Service.ExplainScore(ctx, args[0], &profile)
		if err != nil {
			return eris.Wrap(err, "score")
		}
		formatBreakdown(cmd.OutOrStdout(), args[0], profile.CompanyName, b)
		return nil
	},
}

func init() {
	scoreCmd.Flags().Int64("profile", 0, "supplier profile id (default: anonymous profile)")
	rootCmd.AddCommand(scoreCmd)
}

// formatBreakdown writes the per-component points of a score to w.
func formatBreakdown(out io.Writer, tenderID, company string, b match.Breakdown) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Tender:\t%s\n", tenderID)
	_, _ = fmt.Fprintf(w, "Profile:\t%s\n", company)
	_, _ = fmt.Fprintf(w, "Classification:\t%d\n", b.Classification)
	_, _ = fmt.Fprintf(w, "Keywords:\t%d\n", b.Keywords)
	_, _ = fmt.Fprintf(w, "Location:\t%d\n", b.Location)
	_, _ = fmt.Fprintf(w, "Value:\t%d\n", b.Value)
	_, _ = fmt.Fprintf(w, "Buyer:\t%d\n", b.Buyer)
	_, _ = fmt.Fprintf(w, "Recency:\t%d\n", b.Recency)
	_, _ = fmt.Fprintf(w, "Score:\t%d\n", b.Total)
	_ = w.Flush()
}
