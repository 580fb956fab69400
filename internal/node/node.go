// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package node assembles the staking ledger daemon from its configuration.
package node

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/staking-ledger/config"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/api"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/accrual"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/analytics"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/payment"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/stakes"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

// Node is a staking ledger daemon.
type Node struct {
	Config    *config.Config
	Database  *database.Database
	Events    *events.Bus
	Ledger    *ledger.Ledger
	Stakes    *stakes.Manager
	Scheduler *accrual.Scheduler
	Analytics *analytics.Aggregator
	Payment   *payment.Service
	Handler   *api.Handler

	logger   zerolog.Logger
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

// New opens the database and creates every component. The node does nothing
// until it is started.
func New(cfg *config.Config, logger zerolog.Logger) (*Node, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	n := new(Node)
	n.Config = cfg
	n.logger = logger.With().Str("module", "node").Logger()
	n.Events = events.NewBus(logger)

	n.Database, err = database.Open(cfg, logger)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open database: %w", err)
	}

	err = n.build(logger)
	if err != nil {
		_ = n.Database.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(logger zerolog.Logger) error {
	cfg := n.Config

	var err error
	n.Ledger, err = ledger.New(ledger.Options{
		Database: n.Database,
		Events:   n.Events,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	n.Stakes = stakes.New(stakes.Options{
		Database:      n.Database,
		Ledger:        n.Ledger,
		Logger:        logger,
		SettleOnClose: cfg.Accrual.SettleOnClose,
	})

	n.Scheduler, err = accrual.New(accrual.Options{
		Ledger:   n.Ledger,
		Stakes:   n.Stakes,
		Events:   n.Events,
		Logger:   logger,
		Schedule: cfg.Accrual.Schedule,
	})
	if err != nil {
		return err
	}

	n.Analytics = analytics.New(analytics.Options{
		Database:    n.Database,
		Events:      n.Events,
		Logger:      logger,
		CacheTTL:    cfg.Analytics.CacheTTL,
		DailyWindow: cfg.Analytics.DailyWindow,
	})

	var gateway payment.Gateway
	if !cfg.Payment.DemoMode {
		gateway = &payment.HTTPGateway{BaseURL: cfg.Payment.GatewayURL, APIKey: cfg.Payment.APIKey}
	}
	n.Payment, err = payment.New(payment.Options{
		Ledger:        n.Ledger,
		Gateway:       gateway,
		Logger:        logger,
		DemoMode:      cfg.Payment.DemoMode,
		Timeout:       cfg.Payment.Timeout,
		IPNSecret:     cfg.Payment.IPNSecret,
		PriceCurrency: cfg.Payment.PriceCurrency,
		CallbackURL:   cfg.Payment.CallbackURL,
		SuccessURL:    cfg.Payment.SuccessURL,
		CancelURL:     cfg.Payment.CancelURL,
	})
	if err != nil {
		return err
	}

	if !cfg.Payment.DemoMode && cfg.Payment.ExpirySchedule != "" {
		err = n.Scheduler.AddJob("payment-expiry", cfg.Payment.ExpirySchedule, func(ctx context.Context) error {
			_, err := n.Payment.ExpirePending(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	n.Handler, err = api.NewHandler(api.Options{
		Ledger:         n.Ledger,
		Stakes:         n.Stakes,
		Analytics:      n.Analytics,
		Payment:        n.Payment,
		Logger:         logger,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Metrics:        prometheus.DefaultGatherer,
	})
	return err
}

// Start starts the HTTP server and the scheduler.
func (n *Node) Start() error {
	l, err := net.Listen("tcp", n.Config.API.ListenAddress)
	if err != nil {
		return errors.UnknownError.WithFormat("listen on %s: %w", n.Config.API.ListenAddress, err)
	}
	n.listener = l
	n.done = make(chan struct{})

	n.server = &http.Server{
		Handler:           n.Handler,
		ReadHeaderTimeout: n.Config.API.ReadHeaderTimeout,
	}

	go func() {
		defer close(n.done)
		err := n.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Msg("Server stopped")
		}
	}()

	n.Scheduler.Start()
	n.logger.Info().Str("address", l.Addr().String()).Str("storage", string(n.Config.Storage.Type)).Msg("Started")
	return nil
}

// Addr returns the address the HTTP server is listening on.
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Done is closed when the HTTP server stops.
func (n *Node) Done() <-chan struct{} { return n.done }

// Stop stops the server and the scheduler and closes the database. Stop
// waits for running requests and jobs until the context is canceled.
func (n *Node) Stop(ctx context.Context) error {
	var errs []error
	n.stopOnce.Do(func() {
		if n.server != nil {
			errs = append(errs, n.server.Shutdown(ctx))
		}
		err := n.Scheduler.Stop(ctx)
		if err != nil {
			// A job still holds the database
			n.logger.Error().Err(err).Msg("Scheduler did not stop, leaving the database open")
			errs = append(errs, err)
			return
		}
		errs = append(errs, n.Database.Close())
		n.logger.Info().Msg("Stopped")
	})
	return errors.Join(errs...)
}
