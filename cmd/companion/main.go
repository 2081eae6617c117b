// Command companion runs the voice companion service and its report jobs.
//
// Usage:
//
//	companion serve
//	companion report daily [--date YYYY-MM-DD] [--user ID]
//	companion report run --user ID
//
// All settings come from the environment; see internal/config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
