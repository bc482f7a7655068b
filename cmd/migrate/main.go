package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"settlement-pipeline/config"
	pgStorage "settlement-pipeline/internal/adapter/storage/postgres"
	"settlement-pipeline/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
)

const usage = `usage: migrate <command> [arg]

commands:
  up            apply all pending migrations
  down [n]      roll back n migrations (default 1)
  goto <v>      migrate up or down to version v
  force <v>     set version v without running migrations (clears dirty)
  status        print the current version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("SPL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("settlement-migrate", cfg.Log.Level, cfg.Log.Pretty)

	if err := run(os.Args[1], os.Args[2:], cfg.Database.MigrateURL(), log); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("migration failed")
	}
}

func run(cmd string, args []string, databaseURL string, log zerolog.Logger) error {
	if cmd == "up" {
		return pgStorage.MigrateUp(databaseURL, log)
	}

	m, err := pgStorage.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source_err", srcErr).AnErr("db_err", dbErr).Msg("closing migrator")
		}
	}()

	switch cmd {
	case "down":
		n := 1
		if len(args) > 0 {
			if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
				return fmt.Errorf("down: invalid step count %q", args[0])
			}
		}
		err = m.Steps(-n)
	case "goto":
		v, perr := versionArg(cmd, args)
		if perr != nil {
			return perr
		}
		err = m.Migrate(v)
	case "force":
		v, perr := versionArg(cmd, args)
		if perr != nil {
			return perr
		}
		err = m.Force(int(v))
	case "status":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info().Msg("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
	return nil
}

func versionArg(cmd string, args []string) (uint, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s: version required", cmd)
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid version %q", cmd, args[0])
	}
	return uint(v), nil
}
