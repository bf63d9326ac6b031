// Package cmd contains all CLI commands for sandboxctl, the small operator
// tool that posts a synthetic inbound message to a running sandboxd's debug
// HTTP surface and tails its live log stream — generalized from the
// teacher's vortex-cli deploy/run command pair.
package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var addr string

var (
	successPrint = color.New(color.FgGreen, color.Bold).PrintfFunc()
	errorPrint   = color.New(color.FgRed, color.Bold).PrintfFunc()
	infoPrint    = color.New(color.FgCyan).PrintfFunc()
	dimPrint     = color.New(color.Faint).PrintfFunc()
)

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "sandboxctl - operator tool for a sandboxd worker",
	Long: `sandboxctl talks to a running sandboxd's debug HTTP surface.

Examples:
  sandboxctl send --sandbox-id abc123 message.json
  sandboxctl tail abc123`,
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "sandboxd debug HTTP address")
}

func printSuccess(format string, a ...interface{}) { successPrint("✓ "+format+"\n", a...) }
func printError(format string, a ...interface{})   { errorPrint("✗ "+format+"\n", a...) }
func printInfo(format string, a ...interface{})    { infoPrint("→ "+format+"\n", a...) }

func fatal(format string, a ...interface{}) {
	printError(format, a...)
	os.Exit(1)
}

func checkError(err error, context string) {
	if err != nil {
		fatal("%s: %v", context, err)
	}
}
