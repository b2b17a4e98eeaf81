package errors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	ConfigPath string
	Port       int
}

// Suggest returns suggestions for every kind of failure found in err's
// chain. Each kind contributes once.
func Suggest(err error, ctx SuggestionContext) []ErrorSuggestion {
	if ctx.ConfigPath == "" {
		ctx.ConfigPath = ".pagepack.yml"
	}

	var suggestions []ErrorSuggestion
	seen := map[string]bool{}
	add := func(key string, s ...ErrorSuggestion) {
		if !seen[key] {
			seen[key] = true
			suggestions = append(suggestions, s...)
		}
	}

	walk(err, func(e error) {
		if errors.Is(e, syscall.EADDRINUSE) {
			add("port", ServerStartError(e, ctx.Port)...)
		}
		if errors.Is(e, syscall.EACCES) && ctx.Port > 0 && ctx.Port < 1024 {
			add("port", ServerStartError(e, ctx.Port)...)
		}

		pe, ok := e.(*PagepackError)
		if !ok {
			return
		}
		switch pe.Code {
		case ErrCodeInvalidPath:
			add(pe.Code, ErrorSuggestion{
				Title:       "Check the root and project paths",
				Description: "The project directory must lie inside the root directory",
				Example:     "pagepack serve --root . --project apps/web",
			})
		case ErrCodeConfigInvalid:
			add(pe.Code, ConfigurationError(pe.Message, ctx.ConfigPath)...)
		case ErrCodeRouteConflict:
			if pe.Type == ErrorTypeConflict {
				add(pe.Code, ErrorSuggestion{
					Title:       "Resolve conflicting routes",
					Description: "A pathname is claimed by more than one source file; remove or rename all but one",
					Command:     "pagepack routes",
				})
			}
		}
	})
	return suggestions
}

func walk(err error, visit func(error)) {
	if err == nil {
		return
	}
	visit(err)
	for _, cause := range directCauses(err) {
		walk(cause, visit)
	}
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	if errors.Is(err, syscall.EADDRINUSE) {
		suggestions = append(suggestions,
			ErrorSuggestion{
				Title:       "Port already in use",
				Description: fmt.Sprintf("Port %d is already being used by another process", port),
				Command:     fmt.Sprintf("lsof -i :%d", port),
			},
			ErrorSuggestion{
				Title:       "Use a different port",
				Description: "Start the server on a different port",
				Command:     fmt.Sprintf("pagepack serve --port %d", port+1),
			})
	}

	if errors.Is(err, syscall.EACCES) && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "pagepack serve --port 3000",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(configError string, configPath string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Verify " + configPath + " has valid syntax and values",
			Command:     "cat " + configPath,
		},
		{
			Title:       "Check environment overrides",
			Description: "PAGEPACK_<SECTION>_<OPTION> variables override the file",
			Command:     "env | grep ^PAGEPACK_",
		},
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "decoding") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax or type error in your YAML configuration",
			Example:     "server:\n  port: 3000",
		})
	}

	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	if title != "" {
		output.WriteString(title + "\n\n")
	}
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
	}

	return output.String()
}
