package migrations

import _ "embed"

//go:embed 2024112202_create_profiles.sql
var createProfilesSQL string

func init() {
	register("2024112202", `DROP TABLE IF EXISTS profiles`, createProfilesSQL)
}
