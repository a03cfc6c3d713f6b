package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qcnet/warden/internal/core/config"
	"github.com/qcnet/warden/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current status of all custodians",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.status, c.minted, c.max_capacity,
		       COALESCE(r.balance, 0) AS reserve
		FROM custodians c
		LEFT JOIN reserves r ON r.custodian_id = c.id
		ORDER BY c.id`)
	if err != nil {
		slog.Error("Failed to query custodians", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CUSTODIAN\tSTATUS\tMINTED\tCAPACITY\tRESERVE")

	for rows.Next() {
		var id, status string
		var minted, capacity, reserve int64
		if err := rows.Scan(&id, &status, &minted, &capacity, &reserve); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", id, status, minted, capacity, reserve)
	}
	_ = w.Flush()
}
