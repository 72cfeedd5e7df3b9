package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/platform"
)

// Parser represents a cask.lua parser with platform detection.
type Parser struct {
	detector platform.Detector
	defaults *Config
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table out of the Lua state.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, defaults: Default()}
}

// WithDefaults sets the values used for fields a cask leaves unset.
func (p *Parser) WithDefaults(d *Config) *Parser {
	if d != nil {
		p.defaults = d
	}
	return p
}

// ParseFile reads and parses a cask file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cask file: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a cask from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		platformInfo, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, platformInfo); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("evaluate cask: %w", ctx.Err())
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractConfig(L, p.defaults)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global "cask" table, applies defaults and
// validates the result.
func extractConfig(L *lua.LState, defaults *Config) (*Config, error) {
	caskVal := L.GetGlobal(luaGlobalCask)
	if caskVal.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'cask' table",
			Detail:  fmt.Sprintf("expected table, got %s", caskVal.Type()),
		}
	}
	table := caskVal.(*lua.LTable)

	cfg := &Config{}
	fields := []struct {
		name string
		dst  *string
	}{
		{luaFieldApp, &cfg.App},
		{luaFieldAppDir, &cfg.AppDir},
		{luaFieldExecutableDir, &cfg.ExecutableDir},
		{luaFieldExtension, &cfg.Extension},
	}
	for _, f := range fields {
		v, err := stringField(table, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	cfg.applyDefaults(defaults)

	appDir, err := expandHome(cfg.AppDir)
	if err != nil {
		return nil, err
	}
	cfg.AppDir = appDir

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	return cfg, nil
}

// stringField returns a string field of table. nil (e.g. from a false
// platform.when) yields the empty string so the default applies.
func stringField(table *lua.LTable, name string) (string, error) {
	v := table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return "", nil
	case lua.LTString:
		return v.String(), nil
	default:
		return "", &ParseError{
			Message: fmt.Sprintf("invalid '%s' field", name),
			Detail:  fmt.Sprintf("expected string, got %s", v.Type()),
		}
	}
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		// Extract the most relevant part of the error
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
