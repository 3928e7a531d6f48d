package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prophet/market-engine/internal/slug"
	"github.com/prophet/market-engine/internal/validate"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <text>",
		Short: "Check whether text would be accepted as a claim",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if err := validate.Validate(text); err != nil {
				return fmt.Errorf("rejected (%s): %w", validate.RuleOf(err), err)
			}
			s, err := slug.Make(text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: slug %s\n", s)
			return nil
		},
	}
}
