package commands

import (
	"errors"
	"fmt"

	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter mirror.yml",
	Long: `Write a starter mirror.yml with the default council, an in-memory ledger
and one example static source.

Use --force to overwrite an existing mirror.yml (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing mirror.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write mirror.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	file, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		var exists *scaffold.ErrExists
		if errors.As(err, &exists) {
			return printer.Error(
				"project already initialized",
				fmt.Sprintf("Found existing %s", exists.Path),
				[]string{"Use 'mirror init --force' to overwrite it"},
			)
		}
		return fmt.Errorf("initialization failed: %w", err)
	}

	printer.Success("Created %s\n", file.Path)
	printer.Println("\nNext steps:")
	printer.Println("  1. Point ledger.backend at redis or postgres to keep the ledger")
	printer.Println("  2. Replace the example source with your feeds")
	printer.Println("  3. Run 'mirror serve' and open /api/mind")
	return nil
}
