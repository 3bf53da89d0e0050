package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/ledgersync/internal/adapters/driving/tui/progress"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

var (
	fetchFilters []string
	fetchJSON    bool
	deletePlain  bool
)

// isTerminal reports whether the progress view can be drawn. Tests
// replace it.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List the record types that can be managed",
	Args:  cobra.NoArgs,
	RunE:  runEntities,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <type>",
	Short: "List active records of a type",
	Example: `  ledgersync fetch Customer
  ledgersync fetch Invoice --filter CustomerRef=58 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>...",
	Short: "Delete records of a type",
	Long: `Deletes records one at a time. Types that cannot be deleted upstream are
made inactive instead. A failure on one record does not stop the rest.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDelete,
}

func init() {
	fetchCmd.Flags().StringArrayVar(&fetchFilters, "filter", nil, "field=value condition (repeatable)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print records as JSON")
	deleteCmd.Flags().BoolVar(&deletePlain, "plain", false, "print one line per record instead of a progress bar")

	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runEntities(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, _ string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tQUERIES\tDELETION\tIMPORT")
		for _, d := range rt.Entities.ListEntityTypes() {
			imp := "no"
			if d.Importable {
				imp = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, queries(d), d.Deletion, imp)
		}
		return w.Flush()
	})
}

// queries describes what an alias narrows its physical type to.
func queries(d domain.EntityDescriptor) string {
	if !d.IsAlias() {
		return d.PhysicalType
	}
	conds := make([]string, 0, len(d.Filter))
	for _, c := range d.Filter {
		conds = append(conds, fmt.Sprintf("%s=%v", c.Field, c.Value))
	}
	return d.PhysicalType + " where " + strings.Join(conds, ", ")
}

func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q: want field=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	filter, err := parseFilters(fetchFilters)
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		records, err := rt.Entities.FetchRecords(cmd.Context(), userID, args[0], filter)
		if err != nil {
			return describe(err)
		}
		if fetchJSON {
			if records == nil {
				records = []domain.Record{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		printRecords(cmd.OutOrStdout(), records)
		return nil
	})
}

// summaryFields are shown, when present, after the id in table output.
var summaryFields = []string{"DisplayName", "Name", "DocNumber", "TotalAmt", "Balance", "TxnDate"}

func printRecords(out io.Writer, records []domain.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records.")
		return
	}

	var cols []string
	for _, f := range summaryFields {
		for _, r := range records {
			if _, ok := r[f]; ok {
				cols = append(cols, f)
				break
			}
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t"+strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range records {
		row := []string{r.ID()}
		for _, c := range cols {
			row = append(row, r.String(c))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d record(s)\n", len(records))
}

func runDelete(cmd *cobra.Command, args []string) error {
	entityType, ids := args[0], args[1:]
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		logger.Section(fmt.Sprintf("Delete %d %s record(s)", len(ids), entityType))
		batch, err := rt.Entities.DeleteMany(cmd.Context(), userID, entityType, ids)
		if err != nil {
			return describe(err)
		}

		var final domain.DeleteBatchProgress
		if !deletePlain && isTerminal() {
			var detached bool
			final, detached, err = progress.Run(batch, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if detached {
				cmd.Println("Finishing remaining deletes...")
				final = batch.Wait()
			}
		} else {
			final = watchPlain(cmd.OutOrStdout(), batch)
		}

		printDeleteSummary(cmd.OutOrStdout(), final)
		if final.FailedCount > 0 {
			return fmt.Errorf("%d of %d deletes failed", final.FailedCount, final.Total)
		}
		return nil
	})
}

// watchPlain prints one line per finished item.
func watchPlain(out io.Writer, batch driving.DeleteBatch) domain.DeleteBatchProgress {
	seen := 0
	for p := range batch.Updates() {
		for _, r := range p.Results[seen:] {
			if r.Status == domain.ItemSuccess {
				fmt.Fprintf(out, "[%d/%d] ✓ %s\n", p.Current, p.Total, r.ID)
			} else {
				fmt.Fprintf(out, "[%d/%d] ✗ %s: %s\n", p.Current, p.Total, r.ID, r.Error)
			}
		}
		seen = len(p.Results)
	}
	return batch.Wait()
}

func printDeleteSummary(out io.Writer, p domain.DeleteBatchProgress) {
	fmt.Fprintf(out, "\nDeleted %d of %d %s record(s)", p.SuccessCount, p.Total, p.EntityType)
	if p.FailedCount > 0 {
		fmt.Fprintf(out, ", %d failed", p.FailedCount)
	}
	fmt.Fprintln(out, ".")

	if p.FailedCount > 0 {
		kinds := map[domain.ErrorKind]int{}
		for _, r := range p.Results {
			if r.Status == domain.ItemFailed {
				kinds[r.Kind]++
			}
		}
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, string(k))
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(out, "  %s: %d\n", k, kinds[domain.ErrorKind(k)])
		}
	}
	if p.RefreshError != "" {
		fmt.Fprintf(out, "Warning: could not reload records: %s\n", p.RefreshError)
	}
}
