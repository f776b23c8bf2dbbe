package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/tuxedex/cmd/tuxedex/config"
)

var (
	configDir string
	noColor   bool

	cfg *config.Config
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tuxedex",
		Short: "Local agent for the tuxedex dex",
		Long: `tuxedex runs a local agent in front of the upstream state service.

It proxies state and transaction calls, keeps the connected wallet's dex in
sync, and drives the catch flow: nonce, prepare, sign, simulate, commit.

Examples:
  # Start the agent and the dex page
  tuxedex serve

  # Create the local wallet keystore
  tuxedex wallet init

  # Catch once from the command line
  tuxedex catch`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: persistentPreRunE,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
	}

	cmd.PersistentFlags().StringVar(&configDir, "config", "",
		"Directory holding config.yaml (searched before the defaults)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
	addServeFlags(cmd)

	cmd.AddCommand(
		NewServeCmd(),
		NewCatchCmd(),
		NewRowsCmd(),
		NewWalletCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRunE(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}

	paths := config.SearchPaths()
	if configDir != "" {
		paths = append([]string{configDir}, paths...)
	}
	loaded, err := config.LoadFrom(paths)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("%s %s (commit %s, built %s)\n",
				color.CyanString("tuxedex"), Version, Commit, BuildDate)
			return nil
		},
	}
}
