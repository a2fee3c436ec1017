// Command carebook-migrate manages the carebook database schema.
//
//	carebook-migrate up
//	carebook-migrate down N
//	carebook-migrate force V
//	carebook-migrate version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"carebook/internal/config"
	"carebook/internal/store/postgres"
)

const usage = "usage: carebook-migrate up | down N | force V | version"

type command struct {
	name string
	arg  int
}

func parseArgs(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, fmt.Errorf("missing command")
	}
	cmd := command{name: args[0]}
	switch cmd.name {
	case "up", "version":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "down", "force":
		if len(args) != 2 {
			return command{}, fmt.Errorf("%s needs exactly one number", cmd.name)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: %q is not a number", cmd.name, args[1])
		}
		if cmd.name == "down" && n < 1 {
			return command{}, fmt.Errorf("down: steps must be positive")
		}
		cmd.arg = n
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("service", "carebook-migrate"))

	cmd, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	m, err := postgres.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		log.Error("migrator init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("migrator close failed", slog.Any("err", err))
		}
	}()

	switch cmd.name {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down(cmd.arg)
	case "force":
		err = m.Force(cmd.arg)
	}
	if err != nil {
		log.Error("migration failed", slog.String("command", cmd.name), slog.Any("err", err))
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Error("read version failed", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("schema version", slog.String("command", cmd.name), slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
}
