package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"billingsync/internal/config"
	"billingsync/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|goto N|status>",
	Short:     "Apply or inspect the database schema migrations",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down", "goto", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dbURL, err := migrateURL(cfg.DBConnectionString)
		if err != nil {
			return err
		}
		src, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
		if err != nil {
			return fmt.Errorf("initialize migrations: %w", err)
		}
		defer func() {
			if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
				log.Warn().AnErr("source_error", srcErr).AnErr("db_error", dbErr).Msg("Failed to close migration resources")
			}
		}()

		switch args[0] {
		case "up":
			err = m.Up()
		case "down":
			err = m.Steps(-1)
		case "goto":
			if len(args) < 2 {
				return errors.New("goto requires a version")
			}
			version, perr := strconv.ParseUint(args[1], 10, 64)
			if perr != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], perr)
			}
			err = m.Migrate(uint(version))
		case "status":
			version, dirty, verr := m.Version()
			if errors.Is(verr, migrate.ErrNilVersion) {
				log.Info().Msg("No migrations applied yet")
				return nil
			}
			if verr != nil {
				return verr
			}
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current schema version")
			return nil
		default:
			return fmt.Errorf("unknown migrate command %q", args[0])
		}

		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("Database schema is already up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", args[0], err)
		}
		log.Info().Str("command", args[0]).Msg("Migrations applied")
		return nil
	},
}

// migrateURL rewrites a postgres URL to the pgx5 scheme the migration driver registers.
func migrateURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", errors.New("migrations need DB_CONNECTION_STRING in postgres:// URL form")
}
