package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qcnet/warden/internal/core/config"
	"github.com/qcnet/warden/internal/infra/storage/postgres"
)

var resetRoundCmd = &cobra.Command{
	Use:   "reset-round [custodian_id]",
	Short: "Discard the open attestation round for a custodian and start a fresh one",
	Long: `In exact consensus mode a round where attesters disagree can never settle.
reset-round drops the stale submissions and advances the round counter so
attesters can report again. The last settled reserve snapshot is untouched.`,
	Args: cobra.ExactArgs(1),
	Run:  runResetRound,
}

func init() {
	rootCmd.AddCommand(resetRoundCmd)
}

func runResetRound(cmd *cobra.Command, args []string) {
	custodianID := args[0]

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

	// Operator override on a stuck round. Direct SQL is cleaner here than
	// going through the oracle component, which has no reason to expose a
	// "throw the round away" operation.
	res, err := db.ExecContext(ctx, `
		DELETE FROM attestations
		WHERE custodian_id = $1
		  AND round = (SELECT round FROM oracle_rounds WHERE custodian_id = $1)`,
		custodianID)
	if err != nil {
		slog.Error("Failed to drop stale attestations", "error", err)
		os.Exit(1)
	}
	dropped, _ := res.RowsAffected()

	res, err = db.ExecContext(ctx,
		`UPDATE oracle_rounds SET round = round + 1, opened_at = now() WHERE custodian_id = $1`,
		custodianID)
	if err != nil {
		slog.Error("Failed to advance round", "error", err)
		os.Exit(1)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		fmt.Printf("No open round for custodian %s\n", custodianID)
		return
	}

	fmt.Printf("Successfully reset round for %s (%d stale attestations dropped)\n", custodianID, dropped)
}
