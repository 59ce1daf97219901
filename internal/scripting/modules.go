package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine.* Lua table into L.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L with log and random.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()

	// engine.log(msg) writes msg to the server log at Info level.
	L.SetField(engine, "log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		m.logger.Info("scripting: script log", zap.String("msg", msg))
		return 0
	}))

	// engine.random() returns a uniform float in [0, 1).
	L.SetField(engine, "random", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(m.random.Float64()))
		return 1
	}))

	L.SetGlobal("engine", engine)
}
