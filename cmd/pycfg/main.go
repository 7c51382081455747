package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ludo-technologies/pycfg/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "pycfg",
	Short: "Lower Python source into control-flow graphs",
	Long: `pycfg parses Python source files and lowers each compilation unit
into a control-flow graph of basic blocks with straight-line,
temporary-normalized statements, the form later compiler phases
(type analysis, code generation) consume.

The graphs carry no critical edges, every block ends in a single
terminator, and all composite expressions are flattened through
generated temporaries.`,
	Version: version.Short(),
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Accepted but ignored; no command prints extra output")

	rootCmd.AddCommand(NewCFGCmd())
	rootCmd.AddCommand(NewVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
