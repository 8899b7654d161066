package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the e2e-agent command tree
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "e2e-agent",
		Short:         "AI driven end-to-end regression testing scoped to changed modules",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newScopeCommand())
	return root
}
