//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds all shaders, then rebuilds them as their sources change.
func (Run) Watch() error {
	mg.Deps(Build.CLI)
	fmt.Println("Watching shaders...")
	_, err := executeCmd(binary, withArgs("watch"), withStream())
	return err
}

// Prints the resources of a compiled SPIR-V file, e.g. mage run:inspect lit.frag.spv
func (Run) Inspect(path string) error {
	mg.Deps(Build.CLI)
	_, err := executeCmd(binary, withArgs("inspect", path), withStream())
	return err
}
