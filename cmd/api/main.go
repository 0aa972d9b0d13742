package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradstry/internal/interfaces/scheduler"
	"tradstry/internal/shared/config"
	"tradstry/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
			SampleRatio:  cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
		log.Printf("Telemetry enabled, metrics on :%s", cfg.Telemetry.MetricsPort)
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.WorkerPool.Start()

	var stoppers []Stopper

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.NewScheduler(deps.WorkerPool, scheduler.Config{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   deps.Dispatcher.UserSyncJobs,
		})
		if err != nil {
			return err
		}
		sched.Start()
		stoppers = append(stoppers, stopFunc(func() { sched.Shutdown(shutdownTimeout) }))
		log.Printf("Scheduler started, next run at %s", sched.NextScheduledTime().Format(time.RFC3339))
	} else {
		log.Println("Scheduler is disabled")
	}

	if deps.Listener != nil {
		deps.Listener.Start(ctx)
		stoppers = append(stoppers, deps.Listener)
	}

	handler := SetupRoutes(deps, cfg)
	srvs := newServers(handler, cfg)
	errc := srvs.start()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		log.Printf("Server failed: %v", serveErr)
	}
	stop()

	GracefulShutdown(srvs, deps, stoppers, shutdownTimeout)
	return serveErr
}
