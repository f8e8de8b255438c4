package main

import (
	"fmt"
	"os"
	"path/filepath"

	"messkit/internal/config"
	"messkit/internal/mangle"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init [dir]",
		Short:       "Create a .messkit workspace with a config template and the unit schema",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if err := config.InitWorkspace(root); err != nil {
				return err
			}

			schemaPath := filepath.Join(root, config.WorkspaceDirName, "schemas", "creative.mg")
			if err := os.WriteFile(schemaPath, []byte(mangle.DefaultSchema), 0644); err != nil {
				return fmt.Errorf("writing schema: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s\n", filepath.Join(root, config.WorkspaceDirName))
			return nil
		},
	}
}
