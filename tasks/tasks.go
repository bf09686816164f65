// Package tasks holds the built-in environments. Each task matches the
// bundled scene of the same name.
package tasks

import (
	"fmt"
	"sort"

	"simgym/env"
)

var registry = map[string]func() env.Task{
	"cartpole": func() env.Task { return NewCartPole() },
	"hopper":   func() env.Task { return NewHopper() },
}

// Names lists the built-in tasks.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a fresh task by name.
func New(name string) (env.Task, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q (have %v)", name, Names())
	}
	return mk(), nil
}
