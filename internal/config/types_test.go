package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "custom extension", modify: func(c *Config) {
			c.App = "Plugin.bundle"
			c.Extension = ".bundle"
		}},
		{name: "nested executable dir", modify: func(c *Config) { c.ExecutableDir = "Contents/Library/Helpers" }},
		{name: "empty app", modify: func(c *Config) { c.App = "" }, wantErr: "app:"},
		{name: "app with separator", modify: func(c *Config) { c.App = "a/Clash.app" }, wantErr: "app:"},
		{name: "app wrong extension", modify: func(c *Config) { c.App = "Clash.bundle" }, wantErr: "does not end in .app"},
		{name: "extension without dot", modify: func(c *Config) { c.Extension = "app" }, wantErr: "bundle_extension:"},
		{name: "extension only dot", modify: func(c *Config) { c.Extension = "." }, wantErr: "bundle_extension:"},
		{name: "relative appdir", modify: func(c *Config) { c.AppDir = "Applications" }, wantErr: "appdir:"},
		{name: "absolute executable dir", modify: func(c *Config) { c.ExecutableDir = "/usr/bin" }, wantErr: "executable_dir:"},
		{name: "escaping executable dir", modify: func(c *Config) { c.ExecutableDir = "Contents/../../x" }, wantErr: "escapes"},
		{name: "bundle root as executable dir", modify: func(c *Config) { c.ExecutableDir = "." }, wantErr: "escapes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	c := &Config{App: "ClashMac.app"}
	c.applyDefaults(nil)

	if c.App != "ClashMac.app" {
		t.Errorf("App overwritten: %q", c.App)
	}
	if c.AppDir != DefaultAppDir || c.ExecutableDir != DefaultExecutableDir || c.Extension != DefaultExtension {
		t.Errorf("defaults not applied: %+v", c)
	}

	d := Default()
	d.AppDir = "/Users/me/Applications"
	c = &Config{}
	c.applyDefaults(d)
	if c.AppDir != "/Users/me/Applications" || c.App != DefaultApp {
		t.Errorf("custom defaults not applied: %+v", c)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{in: "~", want: home},
		{in: "~/Applications", want: filepath.Join(home, "Applications")},
		{in: "/Applications", want: "/Applications"},
		{in: "~other/Applications", want: "~other/Applications"},
	}

	for _, tt := range tests {
		got, err := expandHome(tt.in)
		if err != nil {
			t.Fatalf("expandHome(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
