package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <type>",
	Short: "Export active records to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <type> <file.xlsx>",
	Short: "Create or update records from a spreadsheet",
	Long: `Reads the first sheet of an .xlsx workbook. Rows with an Id and SyncToken
update the existing record; rows without an Id create a new one.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default <type>.xlsx)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	entityType := args[0]
	path := exportOutput
	if path == "" {
		path = entityType + ".xlsx"
	}

	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		n, err := rt.Transfer.Export(cmd.Context(), userID, entityType, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			return describe(err)
		}
		cmd.Printf("Exported %d %s record(s) to %s\n", n, entityType, path)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	entityType, path := args[0], args[1]
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		sum, err := rt.Transfer.Import(cmd.Context(), userID, entityType, f)
		if err != nil {
			return describe(err)
		}

		cmd.Printf("Imported %s: %d row(s), %d created, %d updated, %d failed\n",
			sum.EntityType, sum.Total, sum.Created, sum.Updated, sum.Failed)
		for _, e := range sum.Errors {
			cmd.Printf("  %s: %s\n", e.ID, e.Error)
		}
		if sum.Status == domain.OpStatusError {
			return errors.New("import failed")
		}
		return nil
	})
}
