// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package asset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectEnvRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shaders"), 0o755))
	t.Setenv(EnvRoot, root)

	p := Detect(t.TempDir())
	require.Equal(t, root, p.Root)
	require.Equal(t, filepath.Join(root, "assets"), p.Assets)
	require.Equal(t, filepath.Join(root, "shaders"), p.Shaders)
	require.True(t, p.Valid())
}

func TestDetectParentWalk(t *testing.T) {
	t.Setenv(EnvRoot, "")
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	// Start three levels below the directory holding assets.
	start := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(start, 0o755))

	p := Detect(start)
	require.Equal(t, root, p.Root)
	require.Equal(t, filepath.Join(root, "assets"), p.Assets)
	require.Empty(t, p.Shaders)
}

func TestDetectDepthLimit(t *testing.T) {
	t.Setenv(EnvRoot, "")
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	// Eight levels down: beyond the walk depth.
	start := filepath.Join(root, "1", "2", "3", "4", "5", "6", "7", "8")
	require.NoError(t, os.MkdirAll(start, 0o755))

	p := Detect(start)
	require.Empty(t, p.Assets)
}

func TestLocatorAssetPath(t *testing.T) {
	assets := t.TempDir()
	model := filepath.Join(assets, "models", "probe.gltf")
	require.NoError(t, os.MkdirAll(filepath.Dir(model), 0o755))
	require.NoError(t, os.WriteFile(model, []byte("{}"), 0o644))

	l := NewLocator(Paths{Assets: assets})
	require.Equal(t, model, l.AssetPath(filepath.Join("models", "probe.gltf")))
	require.Equal(t, model, l.AssetPath(model), "absolute paths pass through")
	require.Empty(t, l.AssetPath(filepath.Join("models", "missing.gltf")))
	require.Empty(t, l.AssetPath(""))
}

func TestLocatorShaderPath(t *testing.T) {
	shaders := t.TempDir()
	spv := filepath.Join(shaders, "deferred.frag.spv")
	require.NoError(t, os.WriteFile(spv, []byte{1}, 0o644))

	l := NewLocator(Paths{Shaders: shaders})
	require.Equal(t, spv, l.ShaderPath("deferred.frag.spv"))
	require.Empty(t, l.ShaderPath("missing.spv"))
}
