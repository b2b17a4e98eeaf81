// Package cmd provides the command-line interface for pagepack with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--port, --root, etc.) - highest priority
//	2. Individual environment variables (PAGEPACK_SERVER_PORT, etc.)
//	3. Configuration file: --config, else PAGEPACK_CONFIG_FILE, else .pagepack.yml
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	PAGEPACK_CONFIG_FILE: Path to custom configuration file
//	PAGEPACK_SERVER_PORT: Override server port
//	PAGEPACK_BUILD_WORKERS: Override the number of concurrent endpoint writes
//	And many more following the PAGEPACK_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/pagepack/internal/config"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/project"
)

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"root":            "project.root_path",
	"project":         "project.project_path",
	"page-extensions": "routes.page_extensions",
	"host":            "server.host",
	"port":            "server.port",
	"open":            "server.open",
	"workers":         "build.workers",
	"dist-dir":        "build.dist_dir",
}

// app holds what every command shares once configuration is loaded.
type app struct {
	cfgFile string
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own configuration.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "pagepack",
		Short: "Incremental bundler dev server and build tool for page and app routes",
		Long: `pagepack discovers routes from a project's pages/ and app/ directories,
serves them from an incremental development server and writes production
builds.

Quick Start:
  pagepack serve                  Start the development server
  pagepack routes                 List the discovered routes
  pagepack build                  Write every endpoint for production

Command Aliases (for faster typing):
  serve (s), build (b), routes (ls)`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is .pagepack.yml, can also use "+config.FileEnv+" env var)")
	pf.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("root", ".", "root directory bounding every file access")
	pf.String("project", "", "project directory inside the root (default is the root)")
	pf.StringSlice("page-extensions", nil, "page file extensions without dots (default tsx,ts,jsx,js)")

	root.AddCommand(
		newServeCommand(a),
		newBuildCommand(a),
		newRoutesCommand(a),
		newVersionCommand(),
	)
	return root, a
}

// Execute runs the CLI, printing the full cause chain of a failure and
// suggestions for fixing it.
func Execute() error {
	root, a := newRootCommand()
	err := root.Execute()
	if err != nil {
		a.report(root.ErrOrStderr(), err)
	}
	return err
}

func (a *app) report(w io.Writer, err error) {
	fmt.Fprintln(w, pperrors.FormatCauseChain(err))
	ctx := pperrors.SuggestionContext{ConfigPath: a.cfgFile}
	if a.config != nil {
		ctx.Port = a.config.Server.Port
	}
	if suggestions := pperrors.Suggest(err, ctx); len(suggestions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, pperrors.FormatSuggestions("", suggestions))
	}
}

// load reads the configuration for the command being run. Flags are bound
// to a viper instance created for this run only.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "binding --"+f.Name+": "+err.Error())
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	a.config = cfg
	a.logger = logging.NewLogger(lc)
	a.metrics = metrics.New(metrics.WithNamespace("pagepack"))
	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug(cmd.Context(), "Using config file", "file", used)
	}
	return nil
}

func (a *app) openProject(ctx context.Context) (*project.Project, error) {
	return project.New(ctx, a.config.ProjectOptions(),
		project.WithLogger(a.logger),
		project.WithMetrics(a.metrics))
}

func (a *app) closeProject(ctx context.Context, p *project.Project) {
	if err := p.Close(); err != nil {
		a.logger.Warn(ctx, err, "Closing project failed")
	}
}
