package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vzale/apptbooking/api"
	"github.com/vzale/apptbooking/config"
	"github.com/vzale/apptbooking/internal/ws"
)

type Handlers struct {
	Bookings     *api.BookingHandler
	Availability *api.AvailabilityHandler
	Slots        *api.SlotHandler
	Hub          *ws.Hub
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func Run(ctx context.Context, cfg *config.Config, h Handlers) error {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	h.Bookings.Register(router.Group("/api/bookings"))
	h.Availability.Register(router.Group("/api/availability"))
	h.Slots.Register(router.Group("/api/slots"))

	if h.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			h.Hub.Serve(c.Writer, c.Request)
		})
	}

	if cfg.HTTP.OpenAPIFile != "" {
		router.StaticFile("/openapi.json", cfg.HTTP.OpenAPIFile)
		router.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/openapi.json"))))
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
