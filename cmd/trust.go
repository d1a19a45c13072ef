package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sightings/internal/store"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage per-account trust scores",
}

var trustSetCmd = &cobra.Command{
	Use:   "set <account-id> <score>",
	Short: "Set an account's trust score (0 to 1)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrapf(err, "parse score %q", args[1])
		}
		return withTrustStore(cmd, func(st store.Store) error {
			if err := st.SetTrustScore(cmd.Context(), args[0], score); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\n", args[0], score)
			return err
		})
	},
}

var trustGetCmd = &cobra.Command{
	Use:   "get <account-id>",
	Short: "Show an account's trust score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(cmd, func(st store.Store) error {
			score, ok, err := st.TrustScore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\t(default)\n", args[0], cfg.Pipeline.DefaultTrustScore)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\n", args[0], score)
			return err
		})
	},
}

func withTrustStore(cmd *cobra.Command, fn func(store.Store) error) error {
	ctx := cmd.Context()
	if err := cfg.Validate("trust"); err != nil {
		return err
	}
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(st)
}

func init() {
	trustCmd.AddCommand(trustSetCmd, trustGetCmd)
	rootCmd.AddCommand(trustCmd)
}
