package migrations

import _ "embed"

//go:embed 2024112201_create_question_banks.sql
var createQuestionBanksSQL string

func init() {
	register("2024112201", `DROP TABLE IF EXISTS question_banks`, createQuestionBanksSQL)
}
