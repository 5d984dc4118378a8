package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/daemon"
	"github.com/anstrom/netman/internal/registry"
)

const typeIndent = "  "

// typesCmd represents the types command.
var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Show the device type hierarchy",
	Long: `Print the device type hierarchy discovery classifies devices
against. Leaf types are marked with the number of scan commands they
collect. Does not need a database.`,
	Args: cobra.NoArgs,
	RunE: runTypes,
}

func init() {
	rootCmd.AddCommand(typesCmd)
}

func runTypes(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := daemon.LoadRegistry(cfg)
	if err != nil {
		return err
	}
	printTypeTree(os.Stdout, reg)
	return nil
}

// printTypeTree writes the hierarchy depth first, children indented under
// their parent.
func printTypeTree(w io.Writer, reg *registry.Registry) {
	var visit func(n *registry.TypeNode, depth int)
	visit = func(n *registry.TypeNode, depth int) {
		line := strings.Repeat(typeIndent, depth) + string(n.ID)
		if n.IsLeaf() {
			line += fmt.Sprintf(" (%d scan commands)", len(n.ScanCommands))
		}
		fmt.Fprintln(w, line)
		for _, child := range reg.Children(n.ID) {
			visit(child, depth+1)
		}
	}
	visit(reg.Root(), 0)
}
