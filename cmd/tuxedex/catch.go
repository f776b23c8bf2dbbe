package main

import (
	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewCatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catch",
		Short: "Run one catch attempt with the local wallet",
		Long: `Connect the local wallet and run one catch attempt against the peer
contract: nonce, prepare, sign, simulate, commit. Nothing is committed when
the simulation fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if _, err := a.binding.Connect(cmd.Context()); err != nil {
				return errors.Wrap(err, "connect wallet")
			}

			res, err := a.catcher.Catch(cmd.Context())
			if err != nil {
				cmd.Printf("%s catch failed\n", color.RedString("✗"))
				return err
			}

			cmd.Printf("%s Caught! Transaction committed.\n", color.GreenString("✓"))
			cmd.Printf("  attempt:   %s\n", res.AttemptID)
			cmd.Printf("  tx:        %s\n", color.CyanString(res.Tx))
			cmd.Printf("  nonce:     %s\n", res.Nonce)
			cmd.Printf("  signature: %s\n", res.Signature)
			return nil
		},
	}
}
