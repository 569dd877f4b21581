// Package main provides the mediadex CLI: operator commands for opening and
// inspecting the media index store, running a backup maintenance pass, and
// forcing a repair from the backup log.
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
