package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/tuxedex/internal/wallet/localwallet"
)

func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local wallet keystore",
	}
	cmd.AddCommand(newWalletInitCmd(), newWalletShowCmd())
	return cmd
}

func newWalletInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the encrypted keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newStore()
			if err != nil {
				return err
			}
			if _, err := os.Stat(store.Path); err == nil {
				return errors.Newf("keystore already exists at %s", store.Path)
			}

			w, err := openWallet(true)
			if err != nil {
				return err
			}
			cmd.Printf("%s keystore created at %s\n", color.GreenString("✓"), store.Path)
			return printWallet(cmd, w)
		},
	}
}

func newWalletShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the wallet address and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newStore()
			if err != nil {
				return err
			}
			if _, err := os.Stat(store.Path); err != nil {
				return errors.Wrapf(err, "no keystore at %s (run: tuxedex wallet init)", store.Path)
			}
			w, err := openWallet(false)
			if err != nil {
				return err
			}
			cmd.Printf("%s %s\n", color.CyanString("keystore:"), store.Path)
			return printWallet(cmd, w)
		},
	}
}

func printWallet(cmd *cobra.Command, w *localwallet.Wallet) error {
	addr, err := w.RequestAccount(cmd.Context())
	if err != nil {
		return err
	}
	pub, err := w.PublicKey(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("%s %s\n", color.CyanString("scheme:  "), w.SchemeName())
	cmd.Printf("%s %s\n", color.CyanString("address: "), addr)
	cmd.Printf("%s %s\n", color.CyanString("pubkey:  "), pub)
	return nil
}
