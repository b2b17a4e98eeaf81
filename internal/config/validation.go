package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/validation"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds every problem found in a configuration.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder
	for _, err := range vr.Errors {
		builder.WriteString("error: " + err.Error() + "\n")
	}
	for _, warning := range vr.Warnings {
		builder.WriteString("warning: " + warning.Error() + "\n")
	}
	return builder.String()
}

// Validate returns a config error describing every invalid setting, or nil.
func Validate(config *Config) error {
	result := ValidateWithDetails(config)
	if !result.HasErrors() {
		return nil
	}
	messages := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		messages[i] = e.Error()
	}
	err := pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "invalid configuration: "+strings.Join(messages, "; "))
	return err.WithContext("fields", len(result.Errors))
}

// ValidateWithDetails checks every section and collects errors and warnings.
func ValidateWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{}
	validateProject(&config.Project, result)
	validateRoutes(&config.Routes, result)
	validateBuild(&config.Build, result)
	validateServer(&config.Server, result)
	validateImages(&config.Images, result)
	validateLog(&config.Log, result)
	return result
}

func (vr *ValidationResult) fail(field string, value interface{}, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (vr *ValidationResult) warn(field string, value interface{}, format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func validateProject(config *ProjectConfig, result *ValidationResult) {
	if strings.TrimSpace(config.RootPath) == "" {
		result.fail("project.root_path", config.RootPath, "root path is empty")
	}
}

func validateRoutes(config *RoutesConfig, result *ValidationResult) {
	if len(config.PageExtensions) == 0 {
		result.fail("routes.page_extensions", config.PageExtensions, "at least one page extension is required")
	}
	for _, ext := range config.PageExtensions {
		switch {
		case ext == "":
			result.fail("routes.page_extensions", ext, "empty extension")
		case strings.ContainsAny(ext, "./\\"):
			result.fail("routes.page_extensions", ext, "extension %q must not contain a dot or slash", ext)
		}
	}
}

func validateBuild(config *BuildConfig, result *ValidationResult) {
	switch asset.Mode(config.Mode) {
	case asset.ModeDevelopment, asset.ModeBuild:
	default:
		result.fail("build.mode", config.Mode, "unknown mode %q, expected %q or %q", config.Mode, asset.ModeDevelopment, asset.ModeBuild)
	}

	if config.DistDir != "" {
		// Clean the path
		cleanPath := filepath.Clean(config.DistDir)

		// Reject path traversal attempts
		if strings.Contains(cleanPath, "..") {
			result.fail("build.dist_dir", config.DistDir, "dist_dir contains path traversal")
		}

		// Output stays inside the project
		if filepath.IsAbs(cleanPath) {
			result.fail("build.dist_dir", config.DistDir, "dist_dir should be a relative path")
		}
	}

	if config.Workers < 0 {
		result.fail("build.workers", config.Workers, "workers must not be negative")
	}
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port, "port %d is not in valid range 0-65535", config.Port)
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges")
	}

	if config.Host != "" {
		// Basic validation - no dangerous characters
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				result.fail("server.host", config.Host, "host contains dangerous character %q", char)
				break
			}
		}
	}

	for _, origin := range config.AllowedOrigins {
		if err := validation.ValidateOriginEntry(origin); err != nil {
			result.fail("server.allowed_origins", origin, "%v", err)
		}
	}
}

func validateImages(config *ImagesConfig, result *ValidationResult) {
	if config.DefaultQuality < 1 || config.DefaultQuality > 100 {
		result.fail("images.default_quality", config.DefaultQuality, "quality %d is not in range 1-100", config.DefaultQuality)
	}
	if config.MaxWidth < 0 {
		result.fail("images.max_width", config.MaxWidth, "max width must not be negative")
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	switch strings.ToLower(config.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.warn("log.level", config.Level, "unknown level %q, using info", config.Level)
	}
	switch config.Format {
	case "", "text", "json":
	default:
		result.fail("log.format", config.Format, "unknown format %q, expected text or json", config.Format)
	}
}
