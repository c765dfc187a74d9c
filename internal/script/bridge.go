package script

import (
	"fmt"
	"math"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value to Lua. Structs become tables keyed by exported
// field name, nil pointers become nil, and cycles are cut at nil.
func ToLua(L *lua.LState, v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}
	if lv, ok := v.(lua.LValue); ok {
		return lv
	}
	return toLua(L, reflect.ValueOf(v), make(map[uintptr]bool))
}

func toLua(L *lua.LState, rv reflect.Value, seen map[uintptr]bool) lua.LValue {
	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Pointer:
		if rv.IsNil() {
			return lua.LNil
		}
		p := rv.Pointer()
		if seen[p] {
			return lua.LNil
		}
		seen[p] = true
		defer delete(seen, p)
		return toLua(L, rv.Elem(), seen)
	case reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return toLua(L, rv.Elem(), seen)
	case reflect.Slice:
		if rv.IsNil() {
			return lua.LNil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return lua.LString(rv.Bytes())
		}
		fallthrough
	case reflect.Array:
		t := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, toLua(L, rv.Index(i), seen))
		}
		return t
	case reflect.Map:
		if rv.IsNil() {
			return lua.LNil
		}
		t := L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(toLua(L, iter.Key(), seen), toLua(L, iter.Value(), seen))
		}
		return t
	case reflect.Struct:
		t := L.NewTable()
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			t.RawSetString(f.Name, toLua(L, rv.Field(i), seen))
		}
		return t
	default:
		return lua.LNil
	}
}

// ToGo converts a Lua value to Go. Integral numbers become int64, other
// numbers float64. Tables with keys 1..n become []any, other tables
// map[string]any. Functions and cyclic references become nil.
func ToGo(lv lua.LValue) any {
	return toGo(lv, make(map[*lua.LTable]bool))
}

func toGo(lv lua.LValue, seen map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if seen[v] {
			return nil
		}
		seen[v] = true
		defer delete(seen, v)
		return tableToGo(v, seen)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, seen map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), seen)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = toGo(v, seen)
	})
	return m
}

// As converts a value produced by ToGo to R. Numbers convert between
// numeric kinds, strings and bools convert to named types of the same kind.
func As[R any](v any) (R, bool) {
	var zero R
	target := reflect.TypeOf(&zero).Elem()
	if v == nil {
		return zero, false
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		reflect.ValueOf(&zero).Elem().Set(rv)
		return zero, true
	}
	if !compatible(rv.Kind(), target.Kind()) {
		return zero, false
	}
	reflect.ValueOf(&zero).Elem().Set(rv.Convert(target))
	return zero, true
}

func compatible(from, to reflect.Kind) bool {
	switch {
	case numeric(from) && numeric(to):
		return true
	case from == reflect.String && to == reflect.String:
		return true
	case from == reflect.Bool && to == reflect.Bool:
		return true
	default:
		return false
	}
}

func numeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

// describe names a Go value's type for log output.
func describe(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
