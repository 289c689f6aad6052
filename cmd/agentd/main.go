// agentd is the agent process. It serves one role, generator or verifier,
// over framed stdio. stdout carries protocol frames only; logs go to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sceneloop/internal/agentd"
	"sceneloop/internal/logging"
	"sceneloop/internal/protocol"
	"sceneloop/internal/rpc"
)

func main() {
	role := flag.String("role", "", "agent role: generator or verifier")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "optional log file")
	flag.Parse()

	if err := run(*role, *logLevel, *logFile); err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}
}

func run(role, logLevel, logFile string) error {
	var r protocol.Role
	switch role {
	case "generator":
		r = protocol.RoleGenerator
	case "verifier":
		r = protocol.RoleVerifier
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	logger, err := logging.New(logging.Options{Level: logLevel, File: logFile})
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.Named("agentd").With(zap.String("role", role))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := agentd.New(r, nil, logger)
	server := rpc.NewServer("agentd-"+role, daemon.Capabilities(), logger)
	daemon.Register(server)

	logger.Info("serving")
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
