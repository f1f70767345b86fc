package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/vzale/apptbooking/api"
	"github.com/vzale/apptbooking/config"
	"github.com/vzale/apptbooking/internal/bootstrap"
	"github.com/vzale/apptbooking/internal/cache"
	"github.com/vzale/apptbooking/internal/kafka"
	"github.com/vzale/apptbooking/internal/repository"
	"github.com/vzale/apptbooking/internal/service/availability"
	"github.com/vzale/apptbooking/internal/service/booking"
	"github.com/vzale/apptbooking/internal/service/slots"
	"github.com/vzale/apptbooking/internal/webhook"
	"github.com/vzale/apptbooking/internal/ws"
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
	go store.Run(ctx, time.Duration(cfg.Worker.HealthProbeSeconds)*time.Second)

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	hub := ws.NewHub()

	repo := repository.NewAppointmentRepository(pool)
	lockManager := slots.NewLockManager(store, cfg.Booking.SoftLockTTL(), cfg.Booking.HardLockTTL(), cfg.Booking.LockAttemptsPerMin, time.Minute)
	tracker := slots.NewSelectionTracker(store, cfg.Booking.SelectionTTL())
	availabilityService := availability.NewService(repo, store, tracker, cfg.Booking.Hours(), cfg.Booking.DayCacheTTL())

	opts := []booking.Option{
		booking.WithProducer(producer, cfg.Kafka.BookingTopic),
		booking.WithBroadcaster(hub),
	}
	if cfg.Booking.WebhookURL != "" {
		opts = append(opts, booking.WithWebhook(webhook.NewClient(cfg.Booking.WebhookURL)))
	}
	bookingService := booking.NewService(repo, store, lockManager, tracker, cfg.Booking, opts...)

	handlers := bootstrap.Handlers{
		Bookings:     api.NewBookingHandler(bookingService),
		Availability: api.NewAvailabilityHandler(availabilityService),
		Slots:        api.NewSlotHandler(lockManager, tracker, availabilityService),
		Hub:          hub,
	}

	if err := bootstrap.Run(ctx, cfg, handlers); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
