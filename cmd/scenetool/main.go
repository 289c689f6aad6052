// scenetool is the tool process behind the investigate_scene capability. It
// keeps an orbiting camera over the engine scene and renders a fresh view
// for every directive it is asked to apply.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"sceneloop/internal/agent"
	"sceneloop/internal/camera"
	"sceneloop/internal/logging"
	"sceneloop/internal/protocol"
	"sceneloop/internal/rpc"
)

type options struct {
	renderCommand string
	sceneFile     string
	locateScript  string
	viewScript    string
	outDir        string
	startRadius   float64
	logLevel      string
}

func main() {
	var opts options
	flag.StringVar(&opts.renderCommand, "render-command", "blender", "render engine command")
	flag.StringVar(&opts.sceneFile, "scene-file", "", "scene file to investigate")
	flag.StringVar(&opts.locateScript, "locate-script", "", "engine-side script printing an object's position")
	flag.StringVar(&opts.viewScript, "view-script", "", "engine-side script rendering from a camera position")
	flag.StringVar(&opts.outDir, "out-dir", "out/views", "directory for rendered views")
	flag.Float64Var(&opts.startRadius, "start-radius", 10, "initial orbit radius")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "scenetool:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	logger, err := logging.New(logging.Options{Level: opts.logLevel})
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.Named("scenetool")

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", opts.outDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rig := camera.NewRig(locator(opts), viewRenderer(opts), opts.startRadius)

	server := rpc.NewServer("scenetool", []string{agent.CapabilityInvestigateScene}, logger)
	server.Handle(protocol.MethodToolsCall, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var call protocol.ToolCallParams
		if err := json.Unmarshal(raw, &call); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad tool call"}
		}
		if call.Name != agent.CapabilityInvestigateScene {
			return nil, &protocol.Error{Code: protocol.CodeMethodNotFound,
				Message: fmt.Sprintf("unknown capability %q", call.Name)}
		}

		var directive protocol.CameraDirective
		if err := json.Unmarshal(call.Arguments, &directive); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad camera directive"}
		}
		viewRef, err := rig.Apply(ctx, directive)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeToolFailed, Message: err.Error()}
		}
		logger.Debug("view rendered", zap.String("op", string(directive.Op)), zap.String("view", viewRef))
		return protocol.CameraResult{ViewRef: viewRef}, nil
	})

	logger.Info("serving", zap.String("scene", opts.sceneFile))
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

// locator resolves an object name by asking the engine. The locate script
// prints the object's world position as "x y z" on its last stdout line; an
// empty name resolves to the scene origin without spawning the engine.
func locator(opts options) camera.LocateFunc {
	return func(ctx context.Context, name string) (camera.Vec3, error) {
		if name == "" {
			return camera.Vec3{}, nil
		}
		args := []string{"--background", opts.sceneFile, "--python", opts.locateScript, "--", name}
		out, err := engineOutput(ctx, opts.renderCommand, args)
		if err != nil {
			return camera.Vec3{}, err
		}
		return parsePosition(out)
	}
}

// viewRenderer renders one view through the engine-side view script, which
// takes the eye and target coordinates and the output path.
func viewRenderer(opts options) camera.RenderFunc {
	return func(ctx context.Context, eye, target camera.Vec3, view int) (string, error) {
		outPath := filepath.Join(opts.outDir, fmt.Sprintf("view_%03d.png", view))
		args := []string{"--background", opts.sceneFile, "--python", opts.viewScript, "--",
			formatVec(eye), formatVec(target), outPath}
		if _, err := engineOutput(ctx, opts.renderCommand, args); err != nil {
			return "", err
		}
		return outPath, nil
	}
}

func engineOutput(ctx context.Context, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("engine: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	out := stdout.String()
	if strings.Contains(out, "Error:") {
		return "", fmt.Errorf("engine script failed: %s", strings.TrimSpace(out))
	}
	return out, nil
}

func parsePosition(out string) (camera.Vec3, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 3 {
		return camera.Vec3{}, fmt.Errorf("engine returned no position: %q", lines[len(lines)-1])
	}
	var v camera.Vec3
	var err error
	if v.X, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return camera.Vec3{}, err
	}
	if v.Y, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return camera.Vec3{}, err
	}
	if v.Z, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return camera.Vec3{}, err
	}
	return v, nil
}

func formatVec(v camera.Vec3) string {
	return fmt.Sprintf("%g,%g,%g", v.X, v.Y, v.Z)
}
