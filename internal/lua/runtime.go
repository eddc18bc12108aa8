// Package lua runs user planning scripts in a sandboxed Lua state.
package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/quill/internal/worker"
)

// Oracle plans commands with a Lua script that defines plan(command). The
// function returns a table shaped like the planner's JSON plan document:
//
//	function plan(command)
//	  local path = command:match("^publish%s+(%S+)$")
//	  if not path then decline("unknown command") end
//	  return { steps = {
//	    { name = "extract", worker = "extractor", inputs = { path = path } },
//	    { name = "upload", worker = "uploader", spread = { "extract" } },
//	  } }
//	end
//
// The script is read on every call so edits apply without a restart.
type Oracle struct {
	scriptPath string
	registry   *worker.Registry
	logger     *slog.Logger
}

func NewOracle(scriptPath string, registry *worker.Registry, logger *slog.Logger) *Oracle {
	return &Oracle{
		scriptPath: scriptPath,
		registry:   registry,
		logger:     logger.With("component", "lua_oracle"),
	}
}

// DeclinedError is returned when the script calls decline().
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return "script declined: " + e.Reason
}

// call holds per-invocation state so one Oracle can serve many commands.
type call struct {
	oracle   *Oracle
	declined *DeclinedError
}

func (o *Oracle) Plan(ctx context.Context, command string) ([]byte, error) {
	script, err := os.ReadFile(o.scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	c := &call{oracle: o}
	openSafeLibs(L)
	c.registerAPI(L)

	if err := L.DoString(string(script)); err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	fn := L.GetGlobal("plan")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script must define a 'plan' function")
	}

	L.Push(fn)
	L.Push(lua.LString(command))
	if err := L.PCall(1, 1, nil); err != nil {
		if c.declined != nil {
			return nil, c.declined
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("plan() failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("plan() must return a table, got %s", ret.Type())
	}

	doc, err := json.Marshal(planDocument(tbl))
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return doc, nil
}

// openSafeLibs loads only the safe standard libraries
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// No file or code loading
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("module", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Plans must be deterministic
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (c *call) registerAPI(L *lua.LState) {
	L.SetGlobal("decline", L.NewFunction(c.luaDecline))
	L.SetGlobal("workers", L.NewFunction(c.luaWorkers))
	L.SetGlobal("log", L.NewFunction(c.luaLog))
}

// luaDecline implements decline(reason?)
func (c *call) luaDecline(L *lua.LState) int {
	reason := L.OptString(1, "no plan for this command")
	c.declined = &DeclinedError{Reason: reason}
	L.RaiseError("declined: %s", reason)
	return 0
}

// luaWorkers implements workers(), returning {id = {output keys...}}
func (c *call) luaWorkers(L *lua.LState) int {
	tbl := L.NewTable()
	if c.oracle.registry != nil {
		for _, id := range c.oracle.registry.IDs() {
			w, err := c.oracle.registry.Resolve(id)
			if err != nil {
				continue
			}
			keys := L.NewTable()
			for _, k := range w.OutputKeys() {
				keys.Append(lua.LString(k))
			}
			L.SetField(tbl, id, keys)
		}
	}
	L.Push(tbl)
	return 1
}

// luaLog implements log(message)
func (c *call) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	c.oracle.logger.Info(message, "script", filepath.Base(c.oracle.scriptPath))
	return 0
}

// planDocument converts the table returned by plan(). Lua cannot tell an
// empty list from an empty table, so steps and spread are always lists.
func planDocument(tbl *lua.LTable) any {
	doc, ok := luaToGo(tbl).(map[string]any)
	if !ok {
		return luaToGo(tbl)
	}

	if _, has := doc["steps"]; has {
		doc["steps"] = asList(doc["steps"])
	}
	if steps, ok := doc["steps"].([]any); ok {
		for _, s := range steps {
			if step, ok := s.(map[string]any); ok {
				if _, has := step["spread"]; has {
					step["spread"] = asList(step["spread"])
				}
			}
		}
	}
	return doc
}

func asList(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return []any{}
	}
	return v
}

// luaToGo converts a Lua value into something encoding/json understands.
// Tables with keys 1..n become slices; every other table becomes a map.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == tableLen(val) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return v.String()
	}
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}
