package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerOpts configures the health listener.
type ServerOpts struct {
	Listen string
	Check  func(ctx context.Context) Report
	Logger zerolog.Logger
}

// NewRouter builds the /healthz and /metrics routes.
func NewRouter(check func(ctx context.Context) Report) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		rep := check(c.Request.Context())
		code := http.StatusOK
		if !rep.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, rep)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Serve runs the listener until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, opts ServerOpts) error {
	if opts.Listen == "" {
		return fmt.Errorf("health: listen address is required")
	}
	if opts.Check == nil {
		return fmt.Errorf("health: check is required")
	}

	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           NewRouter(opts.Check),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	opts.Logger.Info().Str("listen", opts.Listen).Msg("health listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}
