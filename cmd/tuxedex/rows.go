package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/tuxedex/internal/poller"
	"github.com/quantumauth-io/tuxedex/internal/session"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

func NewRowsCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Print the dex rows stored upstream",
		Long: `Fetch the upstream state once and print the normalized rows. The key
defaults to the state key of the local wallet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			up := newUpstream()
			binding := wallet.NewBinding()

			if key == "" {
				local, err := openWallet(false)
				if err != nil {
					return err
				}
				binding.Detect(local)
				if _, err := binding.Connect(cmd.Context()); err != nil {
					return err
				}
				key, _ = binding.LookupKey(cfg.Agent.StateKeyPrefix)
			}

			p := poller.New(up, binding, session.New(), poller.WithFields(cfg.Agent.Fields...))
			rows, err := p.FetchOnce(cmd.Context(), key)
			if err != nil {
				return err
			}

			cmd.Printf("%s %s\n", color.CyanString("key:"), key)
			if len(rows) == 0 {
				cmd.Println(color.YellowString("no rows"))
				return nil
			}
			for _, r := range rows {
				cmd.Printf("  %-6d %-24s %s\n", r.ID, r.Name, r.Tx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "State key to read (default: the wallet's key)")
	return cmd
}
