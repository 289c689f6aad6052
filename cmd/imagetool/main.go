// imagetool is the tool process behind the compare_images capability. It
// serves framed stdio and scores a rendered image against the target.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sceneloop/internal/agent"
	"sceneloop/internal/imagecmp"
	"sceneloop/internal/logging"
	"sceneloop/internal/protocol"
	"sceneloop/internal/rpc"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if err := run(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "imagetool:", err)
		os.Exit(1)
	}
}

func run(logLevel string) error {
	logger, err := logging.New(logging.Options{Level: logLevel})
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.Named("imagetool")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer("imagetool", []string{agent.CapabilityCompareImages}, logger)
	server.Handle(protocol.MethodToolsCall, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var call protocol.ToolCallParams
		if err := json.Unmarshal(raw, &call); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad tool call"}
		}
		if call.Name != agent.CapabilityCompareImages {
			return nil, &protocol.Error{Code: protocol.CodeMethodNotFound,
				Message: fmt.Sprintf("unknown capability %q", call.Name)}
		}

		var args protocol.CompareImagesArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad compare arguments"}
		}
		report, err := imagecmp.Compare(args.CurrentRef, args.TargetRef)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeToolFailed, Message: err.Error()}
		}
		return protocol.CompareImagesResult{Score: report.Score, Description: report.Description}, nil
	})

	logger.Info("serving")
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
