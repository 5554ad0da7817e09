// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/agenthost/pkg/agent"
)

// ToGo converts a Lua value to a Go value. Tables with a sequence part
// become []any, other tables map[string]any; numbers become float64.
func ToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if isArray(val) {
			return tableToSlice(val)
		}
		return tableToMap(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// isArray checks if a Lua table has a sequence part. An empty table counts
// as an array.
func isArray(tbl *lua.LTable) bool {
	if tbl.MaxN() > 0 {
		return true
	}
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) {
		count++
	})
	return count == 0
}

func tableToSlice(tbl *lua.LTable) []any {
	n := tbl.MaxN()
	result := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		result = append(result, ToGo(tbl.RawGetInt(i)))
	}
	return result
}

func tableToMap(tbl *lua.LTable) map[string]any {
	result := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		result[k.String()] = ToGo(v)
	})
	return result
}

// ToLua converts a Go value to a Lua value owned by L. Structs are
// flattened with mapstructure; values with no Lua counterpart are
// formatted as strings.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(string(val))
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case time.Time:
		return lua.LString(val.Format(time.RFC3339Nano))
	case time.Duration:
		return lua.LString(val.String())
	case error:
		return lua.LString(val.Error())
	case agent.Event:
		return EventTable(L, val)
	case *agent.Event:
		if val == nil {
			return lua.LNil
		}
		return EventTable(L, *val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for _, k := range slices.Sorted(maps.Keys(val)) {
			t.RawSetString(k, ToLua(L, val[k]))
		}
		return t
	}
	return reflectToLua(L, reflect.ValueOf(v))
}

func reflectToLua(L *lua.LState, rv reflect.Value) lua.LValue {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return ToLua(L, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for i := range rv.Len() {
			t.Append(ToLua(L, rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSetString(fmt.Sprint(iter.Key().Interface()), ToLua(L, iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		var m map[string]any
		if err := mapstructure.Decode(rv.Interface(), &m); err == nil {
			return ToLua(L, m)
		}
	}
	return lua.LString(fmt.Sprint(rv.Interface()))
}

// EventTable builds the table scripts receive for an event.
func EventTable(L *lua.LState, e agent.Event) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "type", lua.LString(e.Type))
	L.SetField(t, "timestamp", lua.LString(e.Timestamp.Format(time.RFC3339Nano)))
	L.SetField(t, "data", ToLua(L, e.Data))
	L.SetField(t, "correlation_id", lua.LString(e.CorrelationID))
	L.SetField(t, "source_agent_id", lua.LString(e.SourceAgentID))
	return t
}
