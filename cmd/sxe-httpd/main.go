// Command sxe-httpd runs the non-blocking HTTP/1.1 server core as a
// standalone process: a static-file handler over the wired pool/reactor/
// server stack, enough to exercise the whole read and write path end to
// end without an embedding application.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sxe-httpd/shockwave/internal/obslog"
	"github.com/sxe-httpd/shockwave/internal/reactor"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/server"
)

var (
	listenAddr     string
	listenPort     int
	listenPipePath string
	poolCapacity   int
	inBufferSize   int
	logLevel       string
	logFile        string
	metricsAddr    string
	webroot        string
)

var rootCmd = &cobra.Command{
	Use:     "sxe-httpd",
	Short:   "Non-blocking HTTP/1.1 server core",
	Example: "# sxe-httpd serve --addr INADDR_ANY --port 8080 --webroot ./public",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bind a listener and serve requests",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "INADDR_ANY", "listen address (dotted-quad or INADDR_ANY)")
	serveCmd.Flags().IntVar(&listenPort, "port", 8080, "listen port (0 = ephemeral)")
	serveCmd.Flags().StringVar(&listenPipePath, "pipe", "", "Unix domain socket path (overrides --addr/--port)")
	serveCmd.Flags().IntVar(&poolCapacity, "capacity", 1024, "connection pool capacity")
	serveCmd.Flags().IntVar(&inBufferSize, "in-buffer", 16*1024, "per-connection input buffer size")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "log file path (stdout if empty)")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (empty disables)")
	serveCmd.Flags().StringVar(&webroot, "webroot", "", "directory to serve files from (empty serves a fixed banner)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	log := obslog.New(obslog.Options{
		Stdout:   logFile == "",
		Level:    logLevel,
		Filename: logFile,
	})
	defer log.Sync()

	r, err := reactor.New()
	if err != nil {
		log.Fatal("reactor init failed", zap.Error(err))
	}

	cfg := server.DefaultConfig()
	cfg.Capacity = poolCapacity
	cfg.InBufferSize = inBufferSize
	cfg.Logger = log
	cfg.StampRequestID = true

	h := newFileHandlers(log, webroot)
	srv := server.New(r, cfg, h)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := srv.RegisterMetrics(reg); err != nil {
			log.Fatal("metrics registration failed", zap.Error(err))
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	if listenPipePath != "" {
		if err := srv.ListenPipe(listenPipePath); err != nil {
			log.Fatal("listen pipe failed", zap.Error(err))
		}
		log.Info("serving", zap.String("pipe", listenPipePath))
	} else {
		if err := srv.Listen(listenAddr, listenPort); err != nil {
			log.Fatal("listen failed", zap.Error(err))
		}
		log.Info("serving", zap.String("addr", listenAddr), zap.Int("port", listenPort))
	}

	if err := srv.Run(); err != nil {
		log.Fatal("reactor run failed", zap.Error(err))
	}
}
