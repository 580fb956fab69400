// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package accrual credits stake rewards. A sweep visits every active stake
// and accrues the full periods that have elapsed since its last accrual.
package accrual

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/stakes"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// Cron parses schedules. Seconds are optional and descriptors such as
// @every are allowed.
var Cron = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	mSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "staking",
		Subsystem: "accrual",
		Name:      "sweeps_total",
		Help:      "Number of completed accrual sweeps",
	})

	mFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "staking",
		Subsystem: "accrual",
		Name:      "failures_total",
		Help:      "Number of stakes that failed to accrue",
	})

	mRewards = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "staking",
		Subsystem: "accrual",
		Name:      "rewards_total",
		Help:      "Total rewards accrued",
	})

	mSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "staking",
		Subsystem: "accrual",
		Name:      "sweep_duration_seconds",
		Help:      "Time taken by an accrual sweep",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// SweepResult counts what a sweep did.
type SweepResult struct {
	// Processed is the number of active stakes visited.
	Processed int `json:"processed"`

	// Accrued is the number of stakes that were credited.
	Accrued int `json:"accrued"`

	// Skipped is the number of stakes that were not due or were closed
	// before they were reached.
	Skipped int `json:"skipped"`

	// Failed is the number of stakes that could not be accrued. They are
	// retried by the next sweep.
	Failed int `json:"failed"`

	// Total is the sum of the rewards credited.
	Total decimal.Decimal `json:"total"`
}

type Scheduler struct {
	ledger   *ledger.Ledger
	stakes   *stakes.Manager
	bus      *events.Bus
	logger   zerolog.Logger
	schedule cron.Schedule
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

type Options struct {
	Ledger *ledger.Ledger
	Stakes *stakes.Manager
	Events *events.Bus
	Logger zerolog.Logger

	// Schedule is the sweep schedule, for example "@every 5m".
	Schedule string
}

func New(opts Options) (*Scheduler, error) {
	s := new(Scheduler)
	s.ledger = opts.Ledger
	s.stakes = opts.Stakes
	s.bus = opts.Events
	s.logger = opts.Logger.With().Str("module", "accrual").Logger()

	schedule, err := Cron.Parse(opts.Schedule)
	if err != nil {
		return nil, errors.BadRequest.WithFormat("invalid accrual schedule %q: %w", opts.Schedule, err)
	}
	s.schedule = schedule

	logger := logging.CronLogger{Logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(Cron),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s.cron.Schedule(schedule, cron.FuncJob(s.runSweep))
	return s, nil
}

// AddJob runs the function on the given schedule alongside the sweep.
// Overlapping runs are skipped.
func (s *Scheduler) AddJob(name, spec string, fn func(context.Context) error) error {
	schedule, err := Cron.Parse(spec)
	if err != nil {
		return errors.BadRequest.WithFormat("invalid %s schedule %q: %w", name, spec, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		err := fn(context.Background())
		if err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("Job failed")
		}
	}))
	return nil
}

// Start starts running the sweep and any other jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info().Time("next", s.schedule.Next(s.ledger.Now())).Msg("Started accrual scheduler")
}

// Stop stops the scheduler and waits for running jobs to finish, or for the
// context to be canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSweep() {
	r, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed")
		return
	}
	if r.Accrued > 0 || r.Failed > 0 {
		s.logger.Info().
			Int("processed", r.Processed).
			Int("accrued", r.Accrued).
			Int("failed", r.Failed).
			Str("total", r.Total.String()).
			Msg("Swept stakes")
	}
}

// Sweep accrues every active stake once. A stake that fails does not stop
// the sweep. Running a sweep again at the same time does nothing, since the
// first run has already advanced every due stake.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() { mSweepDuration.Observe(time.Since(start).Seconds()) }()

	active, err := s.stakes.ListAllActive(ctx)
	if err != nil {
		return nil, err
	}

	r := &SweepResult{Total: decimal.Zero}
	for _, stake := range active {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		r.Processed++
		reward, err := s.accrue(ctx, stake)
		switch {
		case err != nil:
			r.Failed++
			mFailures.Inc()
			s.logger.Error().Err(err).Str("stake", stake.ID).Str("user", stake.UserID).Msg("Failed to accrue stake")
		case reward.IsZero():
			r.Skipped++
		default:
			r.Accrued++
			r.Total = r.Total.Add(reward)
			mRewards.Add(reward.InexactFloat64())
		}
	}

	mSweeps.Inc()
	s.bus.Publish(events.DidSweep{Time: s.ledger.Now(), Accrued: r.Accrued, Failed: r.Failed})
	return r, nil
}

func (s *Scheduler) accrue(ctx context.Context, stake *staking.Stake) (decimal.Decimal, error) {
	reward := decimal.Zero
	err := s.ledger.Update(ctx, stake.UserID, func(t *ledger.Tx) error {
		// The stake may have been closed or accrued since it was listed
		current, err := t.Batch().Stake(stake.ID)
		if err != nil {
			return err
		}

		reward, err = stakes.Accrue(t, current)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return reward, nil
}
