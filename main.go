// The main package for the datapull executable.
package main

import (
	"github.com/JakeFAU/datapull/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
