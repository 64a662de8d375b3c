package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/model"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage supplier profiles used for matching",
}

// -- profile init --

var profileInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a supplier profile",
	Long:  "With --user, returns that user's profile, creating it with the new-supplier defaults on first use. Without it, stores a copy of the anonymous default profile.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		userID, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")

		var p *model.SupplierProfile
		if userID != "" {
			p, err = st.GetOrCreateUserProfile(ctx, userID, email)
			if err != nil {
				return eris.Wrap(err, "profile init")
			}
		} else {
			anon := model.AnonymousProfile()
			if err := st.SaveProfile(ctx, &anon); err != nil {
				return eris.Wrap(err, "profile init")
			}
			p = &anon
		}
		return printProfile(cmd.OutOrStdout(), p)
	},
}

// -- profile show --

var profileShowCmd = &cobra.Command{
	Use:   "show [profile-id]",
	Short: "Show a stored profile, or the anonymous default when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			anon := model.AnonymousProfile()
			return printProfile(cmd.OutOrStdout(), &anon)
		}
		id, err := parseID("profile", args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProfile(ctx, id)
		if err != nil {
			return eris.Wrap(err, "profile show")
		}
		return printProfile(cmd.OutOrStdout(), p)
	},
}

// -- profile import --

var profileImportCmd = &cobra.Command{
	Use:   "import <profiles.yaml>",
	Short: "Upsert supplier profiles from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := model.LoadProfiles(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for i := range profiles {
			if err := st.SaveProfile(ctx, &profiles[i]); err != nil {
				return eris.Wrapf(err, "profile import: %s", profiles[i].CompanyName)
			}
		}

		zap.L().Info("profiles imported",
			zap.Int("count", len(profiles)),
			zap.String("file", args[0]),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d profile(s).\n", len(profiles))
		return nil
	},
}

func init() {
	profileInitCmd.Flags().String("user", "", "user id owning the profile")
	profileInitCmd.Flags().String("email", "", "contact email for a new user profile")

	profileCmd.AddCommand(profileInitCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileImportCmd)
	rootCmd.AddCommand(profileCmd)
}

func printProfile(w io.Writer, p *model.SupplierProfile) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
