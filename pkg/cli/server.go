package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mchmarny/photoguard/pkg/logging"
	"github.com/mchmarny/photoguard/pkg/metrics"
	urfave "github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
)

var (
	portFlag = &urfave.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (default: from config)",
	}

	hostFlag = &urfave.StringFlag{
		Name:  "host",
		Usage: "Address on which the server will listen (default: from config)",
	}

	jsonLogsFlag = &urfave.BoolFlag{
		Name:  "json-logs",
		Usage: "Write server logs as JSON",
	}

	serverCmd = &urfave.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start local HTTP API server",
		Action:  cmdStartServer,
		Flags: []urfave.Flag{
			portFlag,
			hostFlag,
			jsonLogsFlag,
			debugFlag,
		},
	}
)

func cmdStartServer(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	if c.Bool(jsonLogsFlag.Name) {
		level := "info"
		if c.Bool(debugFlag.Name) {
			level = "debug"
		}
		slog.SetDefault(logging.NewServerLogger(os.Stderr, level))
	}

	host := cfg.Config.Server.Host
	if c.IsSet(hostFlag.Name) {
		host = c.String(hostFlag.Name)
	}
	port := cfg.Config.Server.Port
	if c.IsSet(portFlag.Name) {
		port = c.Int(portFlag.Name)
	}
	address := fmt.Sprintf("%s:%d", host, port)

	if _, err := cfg.Uploads(); err != nil {
		return err
	}

	s := &http.Server{
		Addr:           address,
		Handler:        makeRouter(cfg),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("error starting server", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	slog.Info("server started", "address", fmt.Sprintf("http://%s", address))

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func makeRouter(cfg *appConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	// Classification API
	mux.HandleFunc("POST /api/classify", classifyAPIHandler(cfg))

	// Photo API
	mux.HandleFunc("POST /api/photos", uploadAPIHandler(cfg))
	mux.HandleFunc("GET /api/photos", listAPIHandler(cfg))
	mux.HandleFunc("GET /api/photos/{id}", photoAPIHandler(cfg))
	mux.HandleFunc("GET /api/photos/{id}/content", contentAPIHandler(cfg))
	mux.HandleFunc("POST /api/photos/{id}/rescan", rescanAPIHandler(cfg))
	mux.HandleFunc("DELETE /api/photos/{id}", deleteAPIHandler(cfg))

	return mux
}
