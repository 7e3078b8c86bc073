//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zwave-go-home/internal/store"
)

const (
	maxHandlersPerScript = 100
	requestTimeout       = 10 * time.Second
)

// registerZWaveModule registers the `zwave` global table in a Lua state.
func registerZWaveModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on":        func(L *lua.LState) int { return zwaveOn(L, vm) },
		"log":       func(L *lua.LState) int { return zwaveLog(L, vm, e) },
		"value":     func(L *lua.LState) int { return zwaveValue(L, e) },
		"meter_get": func(L *lua.LState) int { return zwaveMeterGet(L, vm, e) },
		"after":     func(L *lua.LState) int { return zwaveAfter(L, vm, e) },
		"nodes":     func(L *lua.LState) int { return zwaveNodes(L, e) },
	})
	L.SetGlobal("zwave", mod)
}

func optByte(L *lua.LState, tbl *lua.LTable, key string) uint8 {
	v := tbl.RawGetString(key)
	if v == lua.LNil {
		return 0
	}
	n, ok := v.(lua.LNumber)
	if !ok || n < 0 || n > 255 {
		L.RaiseError("filter %s must be a number 0-255", key)
		return 0
	}
	return uint8(n)
}

// zwave.on(event_type, filter, fn)
func zwaveOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filter := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{eventType: eventType, fn: fn}
	h.filter.node = optByte(L, filter, "node")
	h.filter.class = optByte(L, filter, "class")
	if v := filter.RawGetString("command"); v != lua.LNil {
		h.filter.command = v.String()
	}
	if v := filter.RawGetString("property"); v != lua.LNil {
		h.filter.property = v.String()
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// zwave.log(msg)
func zwaveLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}

// zwave.value(node, class, property[, key]) returns the cached public value
// or nil.
func zwaveValue(L *lua.LState, e *Engine) int {
	node := L.CheckInt(1)
	class := L.CheckInt(2)
	id := store.ValueID{
		ClassID:     uint8(class),
		Property:    L.CheckString(3),
		PropertyKey: L.OptString(4, ""),
	}
	rec, err := e.drv.Store().Value(uint8(node), id)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, rec.Value))
	return 1
}

// zwave.meter_get(node[, scale]) returns value, scale or nil, error.
func zwaveMeterGet(L *lua.LState, vm *scriptVM, e *Engine) int {
	node := L.CheckInt(1)
	if node < 1 || node > 255 {
		L.ArgError(1, "node must be 1-255")
		return 0
	}
	var scale *uint16
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		s := uint16(L.CheckInt(2))
		scale = &s
	}

	ctx, cancel := context.WithTimeout(vm.ctx, requestTimeout)
	defer cancel()
	rep, err := e.drv.Meter(ctx, uint8(node), scale, nil)
	if err != nil {
		e.logger.Warn("meter_get failed", "node", node, "err", err)
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(rep.Value.Float()))
	L.Push(lua.LNumber(rep.Scale()))
	return 2
}

// zwave.after(seconds, fn) runs fn later on the script's VM.
func zwaveAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// zwave.nodes() returns {id=, name=, wake_up_interval=, last_seen=} per node.
func zwaveNodes(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	nodes, err := e.drv.Store().ListNodes()
	if err != nil {
		L.Push(tbl)
		return 1
	}
	for i, n := range nodes {
		t := L.NewTable()
		t.RawSetString("id", lua.LNumber(n.ID))
		t.RawSetString("name", lua.LString(n.Name))
		t.RawSetString("wake_up_interval", lua.LNumber(n.WakeUpInterval))
		if !n.LastSeen.IsZero() {
			t.RawSetString("last_seen", lua.LNumber(n.LastSeen.Unix()))
		}
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}
