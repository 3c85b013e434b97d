package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "chatflow-access-api",
	Short:   "Chatflow access control API",
	Long:    `Admin, role and per-user chatflow permissions with bulk CSV provisioning and runtime access checks.`,
	Version: version,

	// RunE errors are printed once by main.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", rootCmd.Name(), err)
		os.Exit(1)
	}
}
