package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/steplink/pkg/agentstub"
)

func runFakeAgentCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("fake-agent")
	httpAddr := fs.String("http-addr", "127.0.0.1:8585", "development API listen address")
	socketAddr := fs.String("socket-addr", "127.0.0.1:0", "agent socket listen address")
	token := fs.String("token", "", "validation token pushed on the socket (empty sends none)")
	tokenDelay := fs.Duration("token-delay", 0, "delay before pushing the token")
	silent := fs.Bool("silent", false, "accept sockets but never push the token")
	devToken := fs.String("dev-token", "", "required Authorization header value")
	rejectSteps := fs.Bool("reject-steps", false, "answer every step with 503")
	metrics := fs.Bool("metrics", true, "serve Prometheus metrics at /metrics")
	verbose := fs.BoolP("verbose", "V", false, "debug logging")
	configPath := fs.String("config", "", "config file path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		return err
	}

	stubCfg := agentstub.Config{
		Token:        *token,
		TokenDelay:   *tokenDelay,
		SilentSocket: *silent,
		DevToken:     *devToken,
		RejectSteps:  *rejectSteps,
		Version:      version,
		HTTPAddr:     *httpAddr,
		SocketAddr:   *socketAddr,
		Logger:       logger,
	}
	if *metrics {
		stubCfg.MetricsHandler = promhttp.Handler()
	}

	stub, err := agentstub.Start(ctx, stubCfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "fake agent at %s (socket port %d, session %s)\n", stub.URL(), stub.SocketPort(), stub.SessionID())

	<-ctx.Done()
	if err := stub.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "served %d sessions, %d sockets, %d steps\n", stub.Sessions(), stub.Accepted(), len(stub.Steps()))
	return nil
}
