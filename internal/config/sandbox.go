package config

import (
	lua "github.com/yuin/gopher-lua"
)

// caskLibs are the only standard libraries a cask file gets. There is no os,
// io, package or debug library: a cask only computes strings.
var caskLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedBase lists base functions that load code, reach the host or write
// around the read-only platform table.
var blockedBase = []string{
	"require",
	"module",
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"collectgarbage",
	"print",
	"rawset",
	"setfenv",
	"getfenv",
	"newproxy",
}

// sandboxLuaVM opens the cask libraries into L and removes the blocked base
// functions. The other library globals are cleared by name too, so a state
// that already had the full set opened still ends up sandboxed.
func sandboxLuaVM(L *lua.LState) {
	for _, lib := range caskLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range blockedBase {
		L.SetGlobal(name, lua.LNil)
	}
	for _, name := range []string{"os", "io", "package", "debug", "channel", "coroutine"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a Lua VM holding only the cask libraries.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	sandboxLuaVM(L)
	return L
}
