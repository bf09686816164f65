package scenes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledScenesParse(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"cartpole", "hopper"}, names)

	for _, name := range names {
		scene, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, scene.Name)
		assert.NotEmpty(t, scene.Objects)
	}
}

func TestLookupByFileName(t *testing.T) {
	scene, err := Lookup("/some/dir/cartpole.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cartpole", scene.Name)

	_, err = Lookup("quadruped")
	assert.Error(t, err)
}

func TestLoadPrefersDisk(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cartpole.yaml")
	require.NoError(t, os.WriteFile(p, []byte("name: custom\nobjects: []\n"), 0o644))

	scene, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "custom", scene.Name)

	scene, err = Load(filepath.Join(dir, "hopper.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hopper", scene.Name)
}
