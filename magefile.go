//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target - build the binary
var Default = Build

const binary = "bin/pocharness"

// Build builds the pocharness binary
func Build() error {
	fmt.Println("🔨 Building", binary)
	return sh.RunV("go", "build", "-o", binary, "./cmd/pocharness")
}

// Test runs the unit tests
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Golden regenerates the report golden files
func Golden() error {
	return sh.RunV("go", "test", "./internal/report/...", "-update")
}

// QA runs formatting, vet and the tests
func QA() error {
	fmt.Println("🔍 Running QA checks...")
	if err := sh.RunV("gofmt", "-l", "."); err != nil {
		return fmt.Errorf("format check failed: %w", err)
	}
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return fmt.Errorf("vet failed: %w", err)
	}
	mg.Deps(Test)
	return nil
}

// Validate checks the metadata of the shipped corpus
func Validate() error {
	mg.Deps(Build)
	return sh.RunV(binary, "validate", "poc")
}

// Verify builds and runs the whole shipped corpus. Needs cargo on PATH.
func Verify() error {
	mg.Deps(Build)
	args := []string{"run", "poc"}
	if db := os.Getenv("POCHARNESS_HISTORY"); db != "" {
		args = append(args, "--history", db)
	}
	return sh.RunV(binary, args...)
}

// Clean removes build artifacts
func Clean() error {
	return sh.Rm("bin")
}
