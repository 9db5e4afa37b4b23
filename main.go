// The main package for the capreg executable.
package main

import (
	"github.com/JakeFAU/capability-registry/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
