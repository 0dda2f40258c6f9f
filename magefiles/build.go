//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var binary = filepath.Join("bin", "anima-shaders")

// Builds the anima-shaders binary into bin/.
func (Build) CLI() error {
	_, err := executeCmd("go", withArgs("build", "-o", binary, "."), withStream())
	return err
}

// Compiles every shader under assets/shaders, filling the cache.
func (Build) Shaders() error {
	mg.Deps(Build.CLI)
	return buildShaders()
}

func buildShaders() error {
	_, err := executeCmd(binary, withArgs("build"), withStream())
	return err
}
