// Package config holds all sceneloop configuration: the vision model, the
// agent and tool process commands, the executor, and per-run refinement
// settings. Config loads from a YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the executor variant: procedural 3D scenes or slide layouts.
type Mode string

const (
	Mode3D Mode = "3d"
	Mode2D Mode = "2d"
)

// Config is the root configuration.
type Config struct {
	Mode Mode `yaml:"mode"`

	Vision    VisionConfig    `yaml:"vision"`
	Agents    AgentsConfig    `yaml:"agents"`
	Tools     ToolsConfig     `yaml:"tools"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Refine    RefineConfig    `yaml:"refine"`
	Transport TransportConfig `yaml:"transport"`
	Record    RecordConfig    `yaml:"record"`
}

// VisionConfig configures the vision-language model backend.
type VisionConfig struct {
	Model         string `yaml:"model"`
	CredentialRef string `yaml:"credential_ref"` // env var holding the API key
}

// AgentsConfig names the agent process commands. Both default to the agentd
// binary with a role flag.
type AgentsConfig struct {
	GeneratorCommand string `yaml:"generator_command"`
	VerifierCommand  string `yaml:"verifier_command"`
	GeneratorHints   string `yaml:"generator_hints"`
	VerifierHints    string `yaml:"verifier_hints"`
}

// ToolsConfig names the tool process commands, keyed by capability.
type ToolsConfig struct {
	CompareImagesCommand    string `yaml:"compare_images_command"`
	InvestigateSceneCommand string `yaml:"investigate_scene_command"`
}

// ExecutorConfig configures the render engine subprocess.
type ExecutorConfig struct {
	RenderCommand string `yaml:"render_command"` // e.g. "blender"
	SceneFile     string `yaml:"scene_file"`     // template scene / deck
	RenderScript  string `yaml:"render_script"`  // engine-side driver script
	ScriptDir     string `yaml:"script_dir"`     // generated code per round
	RenderDir     string `yaml:"render_dir"`     // rendered output per round
}

// RefineConfig holds loop-level settings.
type RefineConfig struct {
	InitCodePath   string  `yaml:"init_code_path"`
	TargetImage    string  `yaml:"target_image"`
	RoundLimit     int     `yaml:"round_limit"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	SaveDir        string  `yaml:"save_dir"`
}

// TransportConfig bounds the channel timeouts.
type TransportConfig struct {
	CallTimeout      time.Duration `yaml:"call_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// RecordConfig configures the persisted round record.
type RecordConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Mode: Mode3D,
		Vision: VisionConfig{
			Model:         "gemini-2.5-flash",
			CredentialRef: "GEMINI_API_KEY",
		},
		Agents: AgentsConfig{
			GeneratorCommand: "agentd -role generator",
			VerifierCommand:  "agentd -role verifier",
		},
		Tools: ToolsConfig{
			CompareImagesCommand: "imagetool",
		},
		Executor: ExecutorConfig{
			RenderCommand: "blender",
			ScriptDir:     "out/scripts",
			RenderDir:     "out/renders",
		},
		Refine: RefineConfig{
			RoundLimit:     10,
			ScoreThreshold: 0.8,
			SaveDir:        "out",
		},
		Transport: TransportConfig{
			CallTimeout:      120 * time.Second,
			HandshakeTimeout: 15 * time.Second,
		},
		Record: RecordConfig{
			DatabasePath: "out/rounds.db",
		},
	}
}

// Load reads a YAML config file, merges it over defaults, and applies
// environment overrides. A missing path returns defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// applyEnvOverrides lets the environment win over file values for the
// settings that vary per machine.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCENELOOP_VISION_MODEL"); v != "" {
		c.Vision.Model = v
	}
	if v := os.Getenv("SCENELOOP_RENDER_COMMAND"); v != "" {
		c.Executor.RenderCommand = v
	}
	if v := os.Getenv("SCENELOOP_SAVE_DIR"); v != "" {
		c.Refine.SaveDir = v
	}
}

// SplitCommand splits a configured command line into argv form.
func SplitCommand(command string) (string, []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
