package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/build"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

func newBuildCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Write every endpoint for production",
		Long: `Compile and write every endpoint of every route in build mode.
Endpoints are written concurrently. Conflicting routes are reported and
nothing is written; any conflict or failed endpoint exits non-zero.

Examples:
  pagepack build                   # Build into .pagepack
  pagepack build -j 8              # Write eight endpoints at a time
  pagepack build --dist-dir out`,
		Args: cobra.NoArgs,
		RunE: a.runBuild,
	}

	cmd.Flags().IntP("workers", "j", build.DefaultWorkers, "Endpoints written concurrently")
	cmd.Flags().String("dist-dir", ".pagepack", "Output directory inside the project")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.config.Build.Mode = string(asset.ModeBuild)
	a.config.Project.Watch = false

	proj, err := a.openProject(ctx)
	if err != nil {
		return err
	}
	defer a.closeProject(ctx, proj)

	routes, err := proj.Routes(ctx, a.config.RoutesOptions())
	if err != nil {
		return err
	}
	tasks, err := build.Plan(routes)
	if err != nil {
		return pperrors.NewBuildError(pperrors.ErrCodeRouteConflict,
			fmt.Sprintf("%d conflicting routes", len(routes.Conflicts())), err)
	}

	out := cmd.OutOrStdout()
	pipeline := build.NewBuildPipeline(a.config.Build.Workers,
		build.WithLogger(a.logger),
		build.WithCallback(func(r build.BuildResult) { printResult(out, r) }))

	report, err := pipeline.Run(ctx, tasks)
	printReport(out, report, pipeline.Metrics().Snapshot())
	return err
}

func printResult(w io.Writer, r build.BuildResult) {
	mark := "ok  "
	if r.Error != nil {
		mark = "FAIL"
	}
	fmt.Fprintf(w, "%s %-30s %-8s %s\n", mark, r.Task.Pathname, r.Task.Role, r.Duration.Round(time.Millisecond))
}

func printReport(w io.Writer, report *build.Report, snap build.Stats) {
	for _, issue := range report.Issues {
		fmt.Fprintln(w, issue.String())
	}
	fmt.Fprintf(w, "\nWrote %d endpoints in %s", report.Written(), report.Duration.Round(time.Millisecond))
	if report.Failed > 0 {
		fmt.Fprintf(w, " (%d failed)", report.Failed)
	}
	fmt.Fprintln(w)
	if snap.Slowest != "" {
		fmt.Fprintf(w, "Slowest: %s (%s)\n", snap.Slowest, snap.SlowestDuration.Round(time.Millisecond))
	}
}
