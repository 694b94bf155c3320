// Command hallbookingctl performs maintenance on the booking database:
// schema migrations, role changes and booking history inspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/hall-booking/internal/config"
	"github.com/example/hall-booking/internal/persistence"
	"github.com/example/hall-booking/internal/persistence/sqlstore"
)

const usage = `hallbookingctl manages the hall booking database.

Usage:
  hallbookingctl <command> [flags]

Commands:
  migrate   apply pending schema migrations
  status    show applied and pending migrations
  promote   grant the admin role (--email)
  demote    revoke the admin role (--email)
  history   print the event history of a booking (--booking)

Storage settings come from the same sources as the server
(HALLBOOKING_CONFIG_FILE, .env, HALLBOOKING_STORAGE_*).
`

// errUsage marks errors caused by the command line rather than the database.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stdout, usage)
		return nil
	}
	command, rest := args[0], args[1:]

	flags := pflag.NewFlagSet("hallbookingctl "+command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "YAML configuration file")
	envFile := flags.String("env-file", "", "dotenv file (default .env)")
	dsn := flags.String("dsn", "", "override the storage DSN")
	verbose := flags.BoolP("verbose", "v", false, "log storage activity to stderr")

	var email string
	var bookingID int64
	switch command {
	case "migrate", "status":
	case "promote", "demote":
		flags.StringVar(&email, "email", "", "email of the account to change")
	case "history":
		flags.Int64Var(&bookingID, "booking", 0, "booking ID")
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	if err := flags.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %s", errUsage, flags.Arg(0))
	}

	cfg, err := config.LoadWithOptions(config.Options{
		ConfigFile:  *configFile,
		EnvFile:     *envFile,
		Lookup:      lookup,
		StorageOnly: true,
	})
	if err != nil {
		return err
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	switch command {
	case "promote", "demote":
		if strings.TrimSpace(email) == "" {
			return fmt.Errorf("%w: --email is required", errUsage)
		}
	case "history":
		if bookingID <= 0 {
			return fmt.Errorf("%w: --booking must be a positive ID", errUsage)
		}
	}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "migrate":
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return printStatus(ctx, stdout, store)
	case "status":
		return printStatus(ctx, stdout, store)
	case "promote":
		return setRole(ctx, stdout, store, email, persistence.RoleAdmin)
	case "demote":
		return setRole(ctx, stdout, store, email, persistence.RoleUser)
	default:
		return printHistory(ctx, stdout, store, bookingID)
	}
}

func openStore(ctx context.Context, storage config.StorageConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	var dialect sqlstore.Dialect
	switch storage.Driver {
	case config.DriverSQLite:
		dialect = sqlstore.DialectSQLite
	case config.DriverPostgres:
		dialect = sqlstore.DialectPostgres
	default:
		return nil, fmt.Errorf("%w: storage driver %q has no database to manage", errUsage, storage.Driver)
	}

	storeCfg := sqlstore.DefaultConfig(dialect, storage.DSN)
	if storage.Timeout > 0 {
		storeCfg.Timeout = storage.Timeout
	}
	store, err := sqlstore.Open(ctx, storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func printStatus(ctx context.Context, w io.Writer, store *sqlstore.Store) error {
	status, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}

	current := status.CurrentVersion
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(w, "current version: %s\n", current)
	fmt.Fprintf(w, "applied: %d, pending: %d\n", len(status.AppliedMigrations), status.PendingCount)
	for _, m := range status.PendingMigrations {
		fmt.Fprintf(w, "  pending %s %s\n", m.Version, m.Description)
	}
	return nil
}

func setRole(ctx context.Context, w io.Writer, store *sqlstore.Store, email string, role persistence.Role) error {
	user, err := store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("no account with email %s", email)
		}
		return fmt.Errorf("look up account: %w", err)
	}
	if user.Role == role {
		fmt.Fprintf(w, "%s already has role %s\n", user.Email, role)
		return nil
	}

	ok, err := store.SetUserRole(ctx, user.ID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if !ok {
		return fmt.Errorf("account %d disappeared during update", user.ID)
	}
	fmt.Fprintf(w, "%s is now %s\n", user.Email, role)
	return nil
}

func printHistory(ctx context.Context, w io.Writer, store *sqlstore.Store, bookingID int64) error {
	history, err := store.ListBookingEvents(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("list booking events: %w", err)
	}
	if len(history) == 0 {
		return fmt.Errorf("no history for booking %d", bookingID)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED\tEVENT\tACTOR\tROOM\tDATE\tSLOT")
	for _, e := range history {
		room := e.RoomName
		if room == "" {
			room = fmt.Sprint(e.RoomID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s-%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339), e.Kind, e.ActorID, room, e.Date, e.StartTime, e.EndTime)
	}
	return tw.Flush()
}
