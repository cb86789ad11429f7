package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/catalog"
	"github.com/sells-group/gensync/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the unit catalog",
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert unit attributes from the catalog file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = cfg.Catalog.Path
		}
		units, err := catalog.Load(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SyncCatalog(ctx, units)
		if err != nil {
			return eris.Wrap(err, "catalog sync")
		}
		zap.L().Info("catalog synced", zap.String("path", path), zap.Int("units", n))
		fmt.Printf("%d units synced from %s\n", n, path)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		units, err := st.ListUnits(ctx)
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}
		if len(units) == 0 {
			fmt.Fprintln(os.Stderr, "No units found.")
			return nil
		}
		formatUnits(os.Stdout, units)
		return nil
	},
}

func init() {
	catalogSyncCmd.Flags().String("path", "", "catalog file (default catalog.path)")

	catalogCmd.AddCommand(catalogSyncCmd)
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func formatUnits(out io.Writer, units []model.Unit) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tLOCATION\tTYPE\tINSTALLED\tNOMINAL_MW")
	_, _ = fmt.Fprintln(w, "----\t--------\t----\t---------\t----------")
	for _, u := range units {
		installed := "-"
		if u.InstallationDate != nil {
			installed = u.InstallationDate.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\n",
			u.Name, truncate(u.Location, 30), u.ProductionType, installed, u.NominalMW)
	}
	_ = w.Flush()
}
