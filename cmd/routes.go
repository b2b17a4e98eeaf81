package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagepack/internal/bridge"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/route"
)

var routeFormats = []string{"table", "json", "yaml"}

// routeRow is one route as printed by the routes command.
type routeRow struct {
	Pathname  string     `json:"pathname" yaml:"pathname"`
	Kind      route.Kind `json:"kind" yaml:"kind"`
	Endpoints []string   `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Sources   []string   `json:"sources" yaml:"sources"`
}

func newRoutesCommand(a *app) *cobra.Command {
	var (
		format string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:     "routes",
		Aliases: []string{"ls"},
		Short:   "List the discovered routes",
		Long: `List every route discovered from the pages/ and app/ directories with
its kind, endpoint roles and source files. Conflicting routes are listed
with every source that claimed the pathname.

Examples:
  pagepack routes                  # Table output
  pagepack routes -f json          # Output as JSON
  pagepack routes --watch          # Print again whenever the routes change`,
		Args: cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return validateFormat(format, routeFormats)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return a.watchRoutes(cmd, format)
			}
			return a.listRoutes(cmd, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json, yaml)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print the routes again whenever they change")
	return cmd
}

func validateFormat(format string, allowed []string) error {
	for _, f := range allowed {
		if format == f {
			return nil
		}
	}
	return pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid,
		fmt.Sprintf("unsupported format: %s (supported: %s)", format, strings.Join(allowed, ", ")))
}

func (a *app) listRoutes(cmd *cobra.Command, format string) error {
	ctx := cmd.Context()
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
	return printRoutes(cmd.OutOrStdout(), format, rows(routes))
}

// watchRoutes prints the routes on every change until interrupted.
func (a *app) watchRoutes(cmd *cobra.Command, format string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.config.Project.Watch = true
	proj, err := a.openProject(ctx)
	if err != nil {
		return err
	}
	defer a.closeProject(ctx, proj)

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	sub, err := bridge.Subscribe(proj.Engine(), "routes", proj.RoutesCell(a.config.RoutesOptions()),
		func(routes *route.Routes) ([]routeRow, error) { return rows(routes), nil },
		func(rs []routeRow, err error) error {
			if err != nil {
				fmt.Fprintln(errOut, pperrors.FormatCauseChain(err))
				return nil
			}
			if format == "table" {
				fmt.Fprintln(out)
			}
			return printRoutes(out, format, rs)
		},
		bridge.WithLogger(a.logger),
		bridge.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	defer sub.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-sub.Done():
		return sub.Err()
	}
}

func rows(routes *route.Routes) []routeRow {
	out := make([]routeRow, 0, routes.Len())
	for _, pathname := range routes.Pathnames() {
		r, _ := routes.Get(pathname)
		roles := make([]string, 0, len(r.Endpoints()))
		for role := range r.Endpoints() {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		out = append(out, routeRow{
			Pathname:  pathname,
			Kind:      r.Kind(),
			Endpoints: roles,
			Sources:   route.Sources(r),
		})
	}
	return out
}

func printRoutes(w io.Writer, format string, rs []routeRow) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rs)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(rs)
	}

	if len(rs) == 0 {
		_, err := fmt.Fprintln(w, "No routes found.")
		return err
	}
	title := cases.Title(language.English)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATHNAME\tKIND\tENDPOINTS\tSOURCES")
	for _, r := range rs {
		kind := title.String(strings.ReplaceAll(string(r.Kind), "-", " "))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Pathname, kind, strings.Join(r.Endpoints, ","), strings.Join(r.Sources, ", "))
	}
	return tw.Flush()
}
