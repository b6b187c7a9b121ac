package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bainianlaoyao/stream-note/internal/analysis"
	"github.com/bainianlaoyao/stream-note/internal/metrics"
	"github.com/bainianlaoyao/stream-note/internal/notes"
)

const shutdownTimeout = 5 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the silent analysis worker",
		Long: "Run the silent analysis worker until interrupted. When a listen address is set, " +
			"/healthz and /metrics are served on it.",
		Run: runServe,
	}
	cmd.Flags().String("listen", "", "Health and metrics address (default: $STREAM_NOTE_METRICS_ADDR)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	listen, _ := cmd.Flags().GetString("listen")

	a := mustOpenApp()
	defer a.Close()
	if listen == "" {
		listen = a.cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, a.svc, listen, a.log); err != nil {
		exitErr("serve", err)
	}
}

// serve runs the worker, and the HTTP listener when addr is set, until ctx
// is done.
func serve(ctx context.Context, svc *notes.Service, addr string, log zerolog.Logger) error {
	worker := analysis.NewWorker(svc.Queue(), log)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		worker.Stop(analysis.DefaultStopTimeout)
		return nil
	})

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newRouter(svc, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("http listener started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Msg("serving; press Ctrl+C to stop")
	err := g.Wait()
	log.Info().Msg("shut down")
	return err
}

func newRouter(svc *notes.Service, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		v, err := svc.Health(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "schema_version": v})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).Dur("latency", time.Since(start)).Msg("http request")
	}
}
