package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/desertthunder/hymnal/internal/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// Serve starts the engine's schedule and serves the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	host := r.config.Server.Host
	if h := cmd.String("host"); h != "" {
		host = h
	}
	port := r.config.Server.Port
	if p := cmd.Int("port"); p != 0 {
		port = int(p)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	e, err := r.open()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		r.logger.Warn("engine start incomplete, serving anyway", "error", err)
	}

	var extra []server.Middleware
	if limit := cmd.Float("rate"); limit > 0 {
		extra = append(extra, server.RateLimit(rate.NewLimiter(rate.Limit(limit), max(1, int(limit)*2))))
	}
	router := server.NewRouter(server.NewAPI(e, r.logger), r.logger, extra...)

	return server.Serve(ctx, net.JoinHostPort(host, strconv.Itoa(port)), router, r.logger)
}
