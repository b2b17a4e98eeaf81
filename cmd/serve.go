package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the development server",
		Long: `Start the development server. Source files are watched and every
change invalidates exactly the routes and endpoints that read them.

Examples:
  pagepack serve                   # Serve the current directory
  pagepack serve -p 4000 --open    # Serve on port 4000 and open a browser
  pagepack serve --root .. --project web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd, noWatch)
		},
	}

	cmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().Bool("open", false, "Open a browser once the server listens")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Don't watch source files for changes")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, noWatch bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.config.Build.Mode = string(asset.ModeDevelopment)
	a.config.Project.Watch = !noWatch

	proj, err := a.openProject(ctx)
	if err != nil {
		return err
	}
	defer a.closeProject(ctx, proj)

	srv := server.New(a.config, proj,
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
