// File: main.go

package main

import (
	"github.com/xkilldash9x/voyager/cmd"
)

// main is the entry point for the voyager CLI.
func main() {
	cmd.Execute()
}
