package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"optionex/internal/config"
	"optionex/internal/coordinator"
	"optionex/internal/fee"
	"optionex/internal/httpapi"
	"optionex/internal/matching"
	"optionex/internal/phase"
	"optionex/internal/pipeline"
	"optionex/internal/position"
	"optionex/internal/teams"
	"optionex/internal/validation"
	"optionex/internal/venue"
	"optionex/internal/wsfanout"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the exchange's YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}

	roles := teams.NewRegistry()
	positions := position.NewStore()

	schedule, err := cfg.PhaseSchedule()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trading calendar")
	}
	manager, err := phase.NewManager(schedule)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build phase manager")
	}
	clock := phase.NewClock(manager, nil)

	v := venue.New(clock, matching.NewContinuousEngine(), matching.NewBatchEngine())
	instruments, err := cfg.BuildInstruments()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid instrument configuration")
	}
	for _, inst := range instruments {
		if err := v.ListInstrument(inst); err != nil {
			log.Fatal().Err(err).Str("symbol", inst.Symbol).Msg("failed to list instrument")
		}
	}

	constraintChains, err := cfg.Constraints()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid role constraint configuration")
	}
	tradingWindow, err := cfg.TradingWindowConstraint()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trading_window configuration")
	}
	validator := validation.NewValidator(constraintChains, tradingWindow)
	rateLimits := validation.NewRateLimitStore(nil)

	schedules, err := cfg.FeeSchedules()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid role fee configuration")
	}
	fees := fee.NewCalculator(schedules)

	coord := coordinator.New(cfg.CoordinatorConfig())
	ws := wsfanout.NewRegistry()

	p := pipeline.New(pipeline.Deps{
		Venue:      v,
		Validator:  validator,
		RateLimits: rateLimits,
		Positions:  positions,
		Fees:       fees,
		Coord:      coord,
		WS:         ws,
		Roles:      roles,
		Phases:     clock,
	}, cfg.PipelineConfig())

	srv := httpapi.New(httpapi.Deps{
		Venue:     v,
		Pipeline:  p,
		Coord:     coord,
		Teams:     roles,
		Positions: positions,
		WS:        ws,
	}, cfg.HTTPAPIConfig())

	transitions := phase.NewTransitionHandler(v, p)
	poller := phase.NewPoller(manager, transitions, cfg.Calendar.PollInterval, nil)

	t, ctx := tomb.WithContext(ctx)
	p.Run(t)
	t.Go(func() error { return coordinator.StartCleanupSweeper(ctx, coord) })
	t.Go(func() error { return poller.Run(ctx) })
	t.Go(func() error { return srv.Run(ctx) })

	log.Info().Str("addr", cfg.Server.Addr).Int("instruments", len(instruments)).Msg("exchange started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining pipeline")
	p.Shutdown()

	select {
	case <-t.Dead():
	case <-time.After(10 * time.Second):
		log.Warn().Msg("timed out waiting for supervised goroutines to exit")
	}
	if err := t.Err(); err != nil && err != tomb.ErrStillAlive {
		log.Error().Err(err).Msg("exchange exited with error")
	}
}
