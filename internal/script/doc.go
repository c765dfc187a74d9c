// Package script lets Lua files hook into event chains.
//
// Scripts run in a sandboxed gopher-lua state: only the base, table, string
// and math libraries are opened, file loading from Lua is removed, and print
// is routed to the structured logger. A script registers listeners with the
// global hook function:
//
//	hook("change_state", function(change, result)
//	    if change.New and change.New.Node == "beta" then
//	        return 2
//	    end
//	    return result
//	end)
//
// An optional phase may be passed between the name and the function. Hook
// names are bound from Go with BindHook, which gates every script listener
// on a module so disabling the module silences its scripts.
//
// Listener values cross the boundary by conversion: structs and maps become
// tables keyed by field or key name, slices become arrays, and numbers come
// back as int64 or float64 before being converted to the listener's result
// type. A listener that errors, times out, or returns nothing leaves the
// chain's result unchanged.
package script
