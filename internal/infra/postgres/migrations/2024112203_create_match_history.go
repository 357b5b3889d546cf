package migrations

import _ "embed"

//go:embed 2024112203_create_match_history.sql
var createMatchHistorySQL string

func init() {
	register("2024112203", `DROP TABLE IF EXISTS match_history`,
		createMatchHistorySQL,
		`CREATE INDEX IF NOT EXISTS match_history_game_idx ON match_history (game_id)`,
	)
}
