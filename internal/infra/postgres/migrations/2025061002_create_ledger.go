package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_ledger.sql
var createLedgerSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createLedgerSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS leaderboard_snapshots;
				DROP TABLE IF EXISTS season_points;
				DROP TABLE IF EXISTS eligibilities;
				DROP TABLE IF EXISTS session_summaries;
				DROP TABLE IF EXISTS seasons;
			`)
			return err
		},
	)
}
