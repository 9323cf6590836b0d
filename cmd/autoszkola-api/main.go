// README: Entry point; loads config, wires services, runs migrations or the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"autoszkola/internal/app"
	"autoszkola/internal/config"
	"autoszkola/internal/gateway"
	httptransport "autoszkola/internal/http"
	"autoszkola/internal/infra"
	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/exam"
	"autoszkola/internal/modules/payment"
	"autoszkola/internal/modules/ride"
	"autoszkola/internal/modules/schedule"
)

func main() {
	cliApp := &cli.App{
		Name:  "autoszkola-api",
		Usage: "driving school booking and settlement service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Value: "migrations", Usage: "migrations directory"},
				},
				Action: migrate,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	courseStore := course.NewStore(dbPool)

	rideStore := ride.NewStore(dbPool)
	rideSvc := ride.NewService(dbPool, rideStore, courseStore, courseStore, logger)

	scheduleStore := schedule.NewStore(dbPool)
	scheduleSvc := schedule.NewService(dbPool, scheduleStore, rideStore, courseStore, courseStore, logger)

	examStore := exam.NewStore(dbPool)
	examSvc := exam.NewService(dbPool, examStore, rideStore, courseStore, logger)

	gatewayClient := gateway.NewClient(cfg.Gateway, redisClient)
	verifier := gateway.NewVerifier(cfg.Gateway.TrustedCertPrefix)

	paymentStore := payment.NewStore(dbPool)
	paymentSvc := payment.NewService(
		dbPool, paymentStore, courseStore,
		gatewayClient, rideSvc, app.NewLogNotifier(logger),
		payment.WallTimer{}, cfg.Payment.ExpiryGrace, logger,
	)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Schedule: scheduleSvc,
		Rides:    rideSvc,
		Exams:    examSvc,
		Payments: paymentSvc,
		Verifier: verifier,
		Logger:   logger,
	})

	go paymentSvc.RunExpirySweeper(ctx, cfg.Payment.SweepInterval)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("starting autoszkola api", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	migrator, err := app.NewMigrator(dbPool, c.String("dir"))
	if err != nil {
		return err
	}
	defer migrator.Close()

	return migrator.Run(ctx)
}
