// Package scenes bundles the scene files of the built-in tasks.
package scenes

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"simgym/server"
)

//go:embed *.yaml
var files embed.FS

// Names lists the bundled scenes.
func Names() []string {
	entries, _ := fs.ReadDir(files, ".")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Lookup returns a bundled scene by name ("cartpole" or "cartpole.yaml").
func Lookup(name string) (*server.Scene, error) {
	name = strings.TrimSuffix(path.Base(name), ".yaml")
	data, err := files.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no bundled scene %q", name)
	}
	return server.ParseScene(data)
}

// Load reads p from disk, falling back to the bundled scene of the same
// name when the file does not exist.
func Load(p string) (*server.Scene, error) {
	scene, err := server.LoadScene(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Lookup(p)
	}
	return scene, err
}
