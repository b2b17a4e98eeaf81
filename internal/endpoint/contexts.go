package endpoint

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/transition"
)

// PublicEnvPrefix marks environment variables that are also defined in
// browser code.
const PublicEnvPrefix = "PAGEPACK_PUBLIC_"

// ResolveExtensions are tried, in order, when an import omits the extension.
var ResolveExtensions = []string{"tsx", "ts", "jsx", "js", "mjs", "json"}

// Contexts are the module asset contexts of one project.
type Contexts struct {
	Server  *transition.Context
	Data    *transition.Context
	Browser *transition.Context
	Edge    *transition.Context

	Environments map[asset.Environment]transition.Environment
}

// Environments builds the three runtime environments for mode and env.
func Environments(mode asset.Mode, projectDir string, env map[string]string) map[asset.Environment]transition.Environment {
	alias := map[string]string{"@/": projectDir}
	if projectDir == "" {
		alias["@/"] = "."
	}

	serverDefines := defines(mode, env, func(string) bool { return true })
	browserDefines := defines(mode, env, func(k string) bool { return strings.HasPrefix(k, PublicEnvPrefix) })

	resolve := func(conditions ...string) asset.ResolveOptionsContext {
		ro := asset.ResolveOptionsContext{
			Extensions: append([]string(nil), ResolveExtensions...),
			Conditions: conditions,
			Alias:      map[string]string{},
		}
		for k, v := range alias {
			ro.Alias[k] = v
		}
		return ro
	}
	modules := func(layer string) asset.ModuleOptionsContext {
		return asset.ModuleOptionsContext{Layer: layer, EnableTypeScript: true, EnableJSX: true}
	}

	return map[asset.Environment]transition.Environment{
		asset.EnvNodeJs: {
			Info:           asset.CompileTimeInfo{Environment: asset.EnvNodeJs, Mode: mode, Defines: serverDefines},
			ModuleOptions:  modules("server"),
			ResolveOptions: resolve("node", "import", "require"),
		},
		asset.EnvBrowser: {
			Info:           asset.CompileTimeInfo{Environment: asset.EnvBrowser, Mode: mode, Defines: browserDefines},
			ModuleOptions:  modules("client"),
			ResolveOptions: resolve("browser", "import"),
		},
		asset.EnvEdge: {
			Info:           asset.CompileTimeInfo{Environment: asset.EnvEdge, Mode: mode, Defines: cloneDefines(serverDefines)},
			ModuleOptions:  modules("edge"),
			ResolveOptions: resolve("edge-light", "worker", "import"),
		},
	}
}

// NewContexts builds the contexts sharing one transition table.
func NewContexts(mode asset.Mode, projectDir string, env map[string]string) *Contexts {
	envs := Environments(mode, projectDir, env)
	server := envs[asset.EnvNodeJs]
	browser := envs[asset.EnvBrowser]
	edge := envs[asset.EnvEdge]
	table := transition.Standard(browser, server, edge)

	dataOptions := server.ModuleOptions
	dataOptions.DataOnly = true

	return &Contexts{
		Server:       transition.NewContext(table, server.Info, server.ModuleOptions, server.ResolveOptions),
		Data:         transition.NewContext(table, server.Info.Clone(), dataOptions, server.ResolveOptions.Clone()),
		Browser:      transition.NewContext(table, browser.Info, browser.ModuleOptions, browser.ResolveOptions),
		Edge:         transition.NewContext(table, edge.Info, edge.ModuleOptions, edge.ResolveOptions),
		Environments: envs,
	}
}

func defines(mode asset.Mode, env map[string]string, keep func(string) bool) map[string]string {
	nodeEnv := "development"
	if mode == asset.ModeBuild {
		nodeEnv = "production"
	}
	out := map[string]string{"process.env.NODE_ENV": jsonString(nodeEnv)}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "NODE_ENV" || !keep(k) {
			continue
		}
		out["process.env."+k] = jsonString(env[k])
	}
	return out
}

func cloneDefines(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (b *Builder) contextsCell() *incremental.Cell[*Contexts] {
	return incremental.NewCell(b.engine, "endpoint contexts", func(ctx context.Context, rc *incremental.ReadContext) (*Contexts, error) {
		env := map[string]string{}
		if b.env != nil {
			v, err := incremental.Read(ctx, rc, b.env)
			if err != nil {
				return nil, err
			}
			env = v
		}
		return NewContexts(b.mode, b.projectDir, env), nil
	})
}
