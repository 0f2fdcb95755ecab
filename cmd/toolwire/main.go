// Command toolwire serves the built-in tools, the sandbox root's files and
// the configured prompts over stdin and stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
