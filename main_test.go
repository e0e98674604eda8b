package main

import (
	"testing"
)

// TestMain_Imports verifies that the main package compiles and its imports resolve.
// main() exits through cmd.Execute, so behaviour is tested in the cmd package.
func TestMain_Imports(t *testing.T) {
}
