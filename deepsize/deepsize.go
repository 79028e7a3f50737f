// Package deepsize estimates the memory held by a value: its own inline
// size plus everything reachable through pointers, slices, strings, maps
// and interfaces. Each pointer target is counted once.
package deepsize

import "reflect"

// mapHeader approximates the runtime's per-map bookkeeping, counted on
// top of the entries themselves.
const mapHeader = 64

// Of returns the estimated size of v in bytes. Of(nil) is 0.
func Of(v any) int64 {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	w := walker{seen: make(map[uintptr]struct{})}
	return int64(rv.Type().Size()) + w.outside(rv)
}

type walker struct {
	seen map[uintptr]struct{}
}

// first reports whether p has not been visited before and marks it.
func (w *walker) first(p uintptr) bool {
	if _, ok := w.seen[p]; ok {
		return false
	}
	w.seen[p] = struct{}{}
	return true
}

// outside returns the bytes reachable from v that are not part of v's
// inline storage.
func (w *walker) outside(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || !w.first(v.Pointer()) {
			return 0
		}
		elem := v.Elem()
		return int64(elem.Type().Size()) + w.outside(elem)

	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		elem := v.Elem()
		return int64(elem.Type().Size()) + w.outside(elem)

	case reflect.String:
		return int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		n := int64(v.Cap()) * int64(v.Type().Elem().Size())
		return n + w.elems(v)

	case reflect.Array:
		return w.elems(v)

	case reflect.Struct:
		var n int64
		for i := range v.NumField() {
			n += w.outside(v.Field(i))
		}
		return n

	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		n := int64(mapHeader)
		kt, vt := int64(v.Type().Key().Size()), int64(v.Type().Elem().Size())
		it := v.MapRange()
		for it.Next() {
			n += kt + w.outside(it.Key()) + vt + w.outside(it.Value())
		}
		return n
	}
	// Numbers, bools, chans and funcs: inline only.
	return 0
}

// elems sums the outside size of every element of a slice or array,
// skipping the walk when the element type cannot reference memory.
func (w *walker) elems(v reflect.Value) int64 {
	if !refersOutside(v.Type().Elem()) {
		return 0
	}
	var n int64
	for i := range v.Len() {
		n += w.outside(v.Index(i))
	}
	return n
}

// refersOutside reports whether values of t can reference memory beyond
// their inline size.
func refersOutside(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.String, reflect.Slice, reflect.Map:
		return true
	case reflect.Array:
		return refersOutside(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if refersOutside(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
