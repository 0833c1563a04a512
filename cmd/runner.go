package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/engine"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/urfave/cli/v3"
)

// EngineFactory builds the engine a command runs against.
type EngineFactory func(cfg *shared.Config, client *http.Client, logger *log.Logger) (*engine.Engine, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	styled     bool
	newEngine  EngineFactory
	engine     *engine.Engine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Engine     EngineFactory
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Engine == nil {
		opts.Engine = defaultEngine
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		styled:     opts.Output == os.Stdout,
		newEngine:  opts.Engine,
	}
}

func defaultEngine(cfg *shared.Config, client *http.Client, logger *log.Logger) (*engine.Engine, error) {
	return engine.New(engine.Opts{Config: cfg, HTTPClient: client, Logger: logger})
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, songsCommand, pageCommand, refreshCommand, resetCommand, clearCommand, statsCommand,
		changesCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config, keeping defaults when the file is absent,
// and applies the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
		r.configPath = path
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	level := r.config.Log.Level
	if lvl := cmd.String("log-level"); lvl != "" {
		level = lvl
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))

	if cmd.Bool("no-color") {
		r.styled = false
	}
	return ctx, nil
}

// After closes the engine if a command opened one.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	r.engine = nil
	return err
}

// open returns the engine, building it on first use.
func (r *Runner) open() (*engine.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	e, err := r.newEngine(r.config, r.httpClient, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	r.engine = e
	return e, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
