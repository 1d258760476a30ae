package configtest

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

// CheckYAMLTags reports every field reachable from config, within config's
// own package, that print-config would emit as a zero value: exported
// non-bool fields without omitempty. Fields tagged `config:"allowempty"` are
// exempt.
func CheckYAMLTags(config any) error {
	root := reflect.TypeOf(config)
	w := &tagWalker{
		pkgPath: root.PkgPath(),
		visited: make(map[reflect.Type]bool),
	}
	w.walk(root, root.Name())
	return w.errs
}

type tagWalker struct {
	pkgPath string
	visited map[reflect.Type]bool
	errs    error
}

func (w *tagWalker) walk(t reflect.Type, path string) {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array || t.Kind() == reflect.Map {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.PkgPath() != w.pkgPath || w.visited[t] {
		return
	}
	w.visited[t] = true

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get("config") == "allowempty" {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}

		fieldPath := path + "." + field.Name
		options := strings.Split(opts, ",")
		if field.Type.Kind() != reflect.Bool && !slices.Contains(options, "omitempty") && !slices.Contains(options, "inline") {
			w.errs = multierr.Append(w.errs, fmt.Errorf("%s: yaml tag missing omitempty", fieldPath))
		}
		w.walk(field.Type, fieldPath)
	}
}
