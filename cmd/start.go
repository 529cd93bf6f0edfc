package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/lantern/internal/env"
	"github.com/luma/lantern/internal/meta"
	"github.com/luma/lantern/storage"
	"github.com/luma/lantern/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for RESP clients on
	port int

	// How many SO_REUSEPORT listeners to run, 0 means one per CPU
	numListeners int
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 6379, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 0, "The number of TCP listeners, defaults to one per CPU")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the Lantern server",
	Long: `Start up the Lantern server

Usage
	lantern start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.DebugLog || conf.Trace)
		if err != nil {
			return err
		}
		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore()
		defer store.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		router := setupRouter(conf.DebugHTTP, log)
		addRoutes(router, store, registry)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		tcp := transport.NewTCP(transport.Options{
			Host:         host,
			Port:         port,
			Reuseport:    true,
			Trace:        conf.Trace,
			NumListeners: numListeners,
			MaxConns:     conf.MaxConns,
			IdleTimeout:  conf.IdleTimeout,
			ReadSize:     conf.ReadBufferSize,
			Codec:        conf.Codec(),
			Store:        store,
			Metrics:      transport.NewMetrics(registry),
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the servers they have 5 seconds to
		// finish what they are currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Shutdown(ctx); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func addRoutes(r *gin.Engine, store storage.Store, gatherer prometheus.Gatherer) {
	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, meta.GetInfo())
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Dumps every key as a JSON object of base64 encoded values
	r.GET("/backup", func(c *gin.Context) {
		backup, err := store.Backup()
		if err != nil {
			c.String(http.StatusServiceUnavailable, err.Error())
			return
		}

		c.Data(http.StatusOK, "application/json", backup)
	})
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
