package config

// Lua schema field names and globals
const (
	luaGlobalCask         = "cask"
	luaFieldApp           = "app"
	luaFieldAppDir        = "appdir"
	luaFieldExecutableDir = "executable_dir"
	luaFieldExtension     = "bundle_extension"
)

// Defaults applied to fields a cask leaves out.
const (
	DefaultApp           = "Clash.app"
	DefaultAppDir        = "/Applications"
	DefaultExecutableDir = "Contents/MacOS"
	DefaultExtension     = ".app"
)
