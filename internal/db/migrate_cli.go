package db

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrAborted is returned when a forced migration is not confirmed.
var ErrAborted = fmt.Errorf("aborted")

// RunMigrateCommand handles the 'migrate' subcommand of the frames daemon.
// Output goes to w; in is read for the confirmation that 'force' asks for.
func RunMigrateCommand(w io.Writer, in io.Reader, dbPath string, args []string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	database, err := OpenRaw(dbPath, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ All migrations applied successfully")
		return printVersion(w, database)

	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ Migration rolled back successfully")
		return printVersion(w, database)

	case "status":
		return printStatus(w, database)

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: frames migrate version <version_number>")
		}
		target, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateTo(uint(target)); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Migrated to version %d successfully\n", target)
		return nil

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: frames migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		fmt.Fprintf(w, "⚠️  WARNING: Forcing migration version to %d\n", version)
		fmt.Fprintln(w, "This should only be used to recover from a dirty migration state.")
		fmt.Fprint(w, "Continue? [y/N]: ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			return ErrAborted
		}
		if err := database.MigrateForce(version); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Migration version forced to %d\n", version)
		return nil
	}

	PrintMigrateHelp(w)
	return fmt.Errorf("unknown migrate action: %s", action)
}

func printVersion(w io.Writer, database *DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(w io.Writer, database *DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest available: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)

	switch {
	case dirty:
		fmt.Fprintln(w, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(w, "Inspect the pose history, then run: frames migrate force <version>")
	case version < latest:
		fmt.Fprintf(w, "\n⚠️  Database is %d version(s) behind. Run 'frames migrate up' to update.\n", latest-version)
	default:
		fmt.Fprintln(w, "\n✓ Database is up to date!")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Pose history migration commands

Usage: frames [-db path] migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Roll back one migration
  status          Show current and latest migration version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message

The service applies pending migrations on startup; these commands are for
inspecting or repairing a history database offline.
`)
}
