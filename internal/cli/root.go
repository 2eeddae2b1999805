// Package cli implements the tetsuo command-line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/kodokalabs/tetsuo/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _       _\n" +
		" | |_ ___| |_ ___ _   _  ___\n" +
		" | __/ _ \\ __/ __| | | |/ _ \\\n" +
		" | ||  __/ |_\\__ \\ |_| | (_) |\n" +
		"  \\__\\___|\\__|___/\\__,_|\\___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "tetsuo",
	Short: "Tetsuo - local AI agent host",
	Long:  color.CyanString(logo) + "\nA long-running local AI agent host: chat channels in, LLM turns and sandboxed tools out.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tetsuo %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func printHeader(title string) {
	color.Cyan("%s", title)
}
