// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package asset resolves, loads and commits game content:
// glTF scenes, streamed textures and image-based lighting
// data. CPU-heavy parsing runs on worker goroutines; GPU
// object creation stays on the main thread.
package asset

import (
	"os"
	"path/filepath"
)

// EnvRoot is the environment variable naming the content
// root. When set and existing, it wins over directory
// discovery.
const EnvRoot = "QE_ASSET_ROOT"

// walkDepth bounds the parent-directory search.
const walkDepth = 6

// Paths holds the discovered content directories. Empty
// fields mean "not found".
type Paths struct {
	Root    string
	Assets  string
	Shaders string
}

// Valid reports whether at least one content directory was
// found.
func (p *Paths) Valid() bool { return p.Assets != "" || p.Shaders != "" }

func dirExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// findUpwards walks from start toward the filesystem root,
// up to walkDepth levels, looking for a directory that
// contains subdir. It returns the containing directory.
func findUpwards(start, subdir string) string {
	cur, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for i := 0; i <= walkDepth; i++ {
		if dirExists(filepath.Join(cur, subdir)) {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return ""
}

// Detect discovers the content directories starting at
// startDir (the working directory when empty): the EnvRoot
// override first, then the parent walk for assets/shaders
// siblings, then cwd-relative fallbacks.
func Detect(startDir string) Paths {
	if startDir == "" {
		startDir, _ = os.Getwd()
	}
	var out Paths

	if root := os.Getenv(EnvRoot); root != "" && dirExists(root) {
		out.Root = root
		if p := filepath.Join(root, "assets"); dirExists(p) {
			out.Assets = p
		}
		if p := filepath.Join(root, "shaders"); dirExists(p) {
			out.Shaders = p
		}
		return out
	}

	if root := findUpwards(startDir, "assets"); root != "" {
		out.Root = root
		out.Assets = filepath.Join(root, "assets")
	}
	if root := findUpwards(startDir, "shaders"); root != "" {
		out.Shaders = filepath.Join(root, "shaders")
		if out.Root == "" {
			out.Root = root
		}
	}
	return out
}

// Locator resolves relative content names to paths.
type Locator struct {
	paths Paths
}

// NewLocator builds a locator over the given paths.
// Use Detect to discover them.
func NewLocator(paths Paths) *Locator { return &Locator{paths: paths} }

// Paths returns the discovered directories.
func (l *Locator) Paths() Paths { return l.paths }

func resolveIn(base, name string) string {
	if base == "" {
		return ""
	}
	if p := filepath.Join(base, name); fileExists(p) {
		return p
	}
	return ""
}

func (l *Locator) resolve(root, subdir, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) && fileExists(name) {
		return name
	}
	if fileExists(name) {
		return name
	}
	if p := resolveIn(root, name); p != "" {
		return p
	}
	cwd, _ := os.Getwd()
	if p := resolveIn(filepath.Join(cwd, subdir), name); p != "" {
		return p
	}
	if p := resolveIn(filepath.Join(cwd, "..", subdir), name); p != "" {
		return p
	}
	return ""
}

// AssetPath resolves a content file name. It returns the
// empty string when the file cannot be found.
func (l *Locator) AssetPath(name string) string {
	return l.resolve(l.paths.Assets, "assets", name)
}

// ShaderPath resolves a shader binary name.
func (l *Locator) ShaderPath(name string) string {
	return l.resolve(l.paths.Shaders, "shaders", name)
}
