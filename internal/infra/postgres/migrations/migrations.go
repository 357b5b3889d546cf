// Package migrations holds the schema of the permanent store.
package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// register adds a migration whose up step runs the given statements in order.
func register(name, drop string, statements ...string) {
	Migrations.Add(migrate.Migration{
		Name: name,
		Up: func(ctx context.Context, db *bun.DB) error {
			for _, stmt := range statements {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, drop)
			return err
		},
	})
}
