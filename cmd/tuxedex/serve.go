package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"

	clienthttp "github.com/quantumauth-io/tuxedex/internal/http"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

var (
	listenAddr     string
	connectOnStart bool
)

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&listenAddr, "listen", "",
		"Address for the agent API and dex page (overrides config)")
	cmd.Flags().BoolVar(&connectOnStart, "connect", false,
		"Connect the wallet at startup instead of waiting for the page")
}

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local agent and dex page",
		Long: `Run the local agent: the upstream proxy, the contract pass-through,
the dex polling loop and the catch API, plus the dex page on the same address.`,
		RunE: runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info("tuxedex",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if listenAddr != "" {
		cfg.Agent.Listen = listenAddr
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if connectOnStart {
		id, err := a.binding.Connect(ctx)
		if err != nil {
			return errors.Wrap(err, "connect wallet")
		}
		log.Info("wallet connected", "address", id.Address)
	}

	handler, err := clienthttp.NewServer(clienthttp.Deps{
		Upstream:       a.upstream,
		Contract:       a.contract,
		Wallet:         a.binding,
		Catcher:        a.catcher,
		State:          a.state,
		Poller:         a.poller,
		AllowedOrigins: cfg.UIOrigins(),
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := a.binding.Watch(ctx, func(_ wallet.Identity, err error) {
			if err != nil && !wallet.IsNotConnected(err) {
				a.state.SetError(err)
			}
		})
		if err != nil {
			log.Error("wallet watch stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.poller.Run(ctx); err != nil {
			log.Error("poller stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.Agent.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("agent listening",
		"addr", cfg.Agent.Listen,
		"upstream", a.upstream.Config().URL("/"),
		"address", a.binding.Identity().Address,
	)
	cmd.Printf("%s dex page at %s\n", color.GreenString("✓"), color.CyanString("http://"+cfg.Agent.Listen))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			log.Error("HTTP server error", "error", err)
			cancel()
			wg.Wait()
			return err
		}
	}

	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
	wg.Wait()
	return nil
}
