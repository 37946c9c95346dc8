package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/ticketboard/internal/config"
	"github.com/kalambet/ticketboard/internal/reconciler"
	"github.com/kalambet/ticketboard/internal/remote"
)

// newStoreClient builds a client for the configured ticket store. The
// --store flag wins over store.url.
var newStoreClient = func() (*remote.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)

	url := cfg.Store.URL
	if storeURL != "" {
		url = storeURL
	}
	return remote.New(url, cfg.Store.Timeout), nil
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// newBoard returns a reconciler over client that reports failed intents on
// stderr.
func newBoard(client *remote.Client) *reconciler.Reconciler {
	var board *reconciler.Reconciler
	board = reconciler.New(client, reconciler.NotifierFunc(func(ev reconciler.Event) {
		switch {
		case ev.Err != nil:
			printError("%s", describeFailure(ev.Err))
			if ev.Reverted {
				if t, ok := board.Get(ev.TicketID); ok {
					printWarning("ticket %s stays in %s", ev.TicketID, t.Status.Label())
				}
			}
		case ev.Stale:
			printWarning("%s %s: a newer change superseded the store's answer", ev.Op, ev.TicketID)
		}
	}))
	return board
}

func describeFailure(err error) string {
	if errors.Is(err, remote.ErrNetwork) {
		return fmt.Sprintf("%v (is the ticket store running?)", err)
	}
	return err.Error()
}

// loadBoard builds a board and fills it from the store.
func loadBoard(cmd *cobra.Command) (*reconciler.Reconciler, error) {
	client, err := newStoreClient()
	if err != nil {
		return nil, err
	}
	board := newBoard(client)
	if _, err := board.Load(cmd.Context()); err != nil {
		return nil, errReported
	}
	return board, nil
}

// errReported signals that the failure was already printed by the notifier.
var errReported = errors.New("operation failed")
