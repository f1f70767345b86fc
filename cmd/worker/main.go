package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/vzale/apptbooking/config"
	"github.com/vzale/apptbooking/internal/cache"
	"github.com/vzale/apptbooking/internal/email"
	"github.com/vzale/apptbooking/internal/kafka"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisStore := cache.NewRedisStore(cfg.Redis)
	transientStore := cache.NewPGTransientStore(pool)
	store := cache.NewFailover(redisStore, transientStore, cfg.Booking.SelectionTTL())

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.BookingTopic)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, event kafka.AppointmentEvent) error {
			return emailSender.Send(ctx, event)
		}); err != nil {
			log.Printf("consumer stopped: %v", err)
		}
	}()

	// The canary probe drives the cache fail-over and the sync-on-recovery
	// replay; the sweep clears expired fallback rows the read path missed.
	scheduler := cron.New(cron.WithSeconds())
	_, _ = scheduler.AddFunc(fmt.Sprintf("@every %ds", cfg.Worker.HealthProbeSeconds), func() {
		store.Probe(ctx)
	})
	_, _ = scheduler.AddFunc(fmt.Sprintf("@every %dm", cfg.Worker.TransientSweepMinutes), func() {
		removed, err := transientStore.Sweep(ctx)
		if err != nil {
			log.Printf("transient sweep error: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("swept %d expired transients", removed)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	<-ctx.Done()
	log.Printf("shutting down")
}
