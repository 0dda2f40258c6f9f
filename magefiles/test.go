//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

// Runs go vet and the test suite with the race detector.
func Test() error {
	mg.Deps(Tidy)
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Runs go mod tidy.
func Tidy() error {
	return goTidy()
}
