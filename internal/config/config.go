// Package config builds a types.Config from flags, environment variables
// and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"cafesync/internal/discovery"
	"cafesync/internal/protocol"
	"cafesync/internal/store"
	"cafesync/pkg/types"
)

// envNames maps each flag to the environment variable it falls back to.
var envNames = map[string]string{
	"role":             "CAFESYNC_ROLE",
	"table":            "CAFESYNC_TABLE",
	"name":             "CAFESYNC_NAME",
	"service":          "CAFESYNC_SERVICE",
	"listen":           "CAFESYNC_LISTEN",
	"advertise-addr":   "CAFESYNC_ADVERTISE_ADDR",
	"multicast":        "CAFESYNC_MULTICAST",
	"beacon":           "CAFESYNC_BEACON",
	"allow-loopback":   "CAFESYNC_ALLOW_LOOPBACK",
	"dial-timeout":     "CAFESYNC_DIAL_TIMEOUT",
	"settle":           "CAFESYNC_SETTLE",
	"restart-cooldown": "CAFESYNC_RESTART_COOLDOWN",
	"force-cooldown":   "CAFESYNC_FORCE_COOLDOWN",
	"db-type":          "DATABASE_TYPE",
	"db":               "DATABASE_URL",
	"seed":             "CAFESYNC_SEED_CATALOG",
	"seed-demo-orders": "CAFESYNC_SEED_DEMO_ORDERS",
	"tables":           "CAFESYNC_TABLES",
	"http":             "CAFESYNC_HTTP_ADDR",
	"relay":            "CAFESYNC_RELAY_URL",
	"relay-exchange":   "CAFESYNC_RELAY_EXCHANGE",
	"log-level":        "CAFESYNC_LOG_LEVEL",
	"log-format":       "CAFESYNC_LOG_FORMAT",
	"no-repl":          "CAFESYNC_NO_REPL",
}

// LoadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ParseFlags parses args, fills unset flags from the environment, applies
// derived defaults and validates the result.
func ParseFlags(args []string) (types.Config, error) {
	var cfg types.Config
	fs := flag.NewFlagSet("cafesync", flag.ContinueOnError)

	fs.StringVar(&cfg.Role, "role", string(protocol.RoleTerminal), "Device role (coordinator or terminal)")
	fs.IntVar(&cfg.Table, "table", 0, "Table number (terminal)")
	fs.StringVar(&cfg.Name, "name", "", "Device display name")

	fs.StringVar(&cfg.Service, "service", types.DefaultService, "Discovery service identifier")
	fs.StringVar(&cfg.ListenAddr, "listen", types.DefaultListenAddr, "TCP listen address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise-addr", "", "Address announced to peers (default: listen address)")
	fs.StringVar(&cfg.Multicast, "multicast", types.DefaultMulticast, "Beacon multicast group")
	fs.DurationVar(&cfg.Beacon, "beacon", types.DefaultBeacon, "Beacon interval")
	fs.BoolVar(&cfg.AllowLoopback, "allow-loopback", false, "Treat loopback as a usable network")

	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", types.DefaultDialTimeout, "Connection attempt timeout")
	fs.DurationVar(&cfg.Settle, "settle", types.DefaultSettle, "Delay before restarting an active discovery activity")
	fs.DurationVar(&cfg.RestartCooldown, "restart-cooldown", types.DefaultRestartCooldown, "Discovery restart cooldown")
	fs.DurationVar(&cfg.ForceCooldown, "force-cooldown", types.DefaultForceCooldown, "Forced restart cooldown")

	fs.StringVar(&cfg.DatabaseType, "db-type", string(store.SQLite), "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.DatabaseURL, "db", "", "Database URL or sqlite file")
	fs.BoolVar(&cfg.SeedCatalog, "seed", true, "Seed the default menu into an empty catalog (coordinator)")
	fs.BoolVar(&cfg.SeedDemo, "seed-demo-orders", false, "Seed sample orders into an empty order book (coordinator)")
	fs.IntVar(&cfg.Tables, "tables", types.DefaultTables, "Number of tables to create (coordinator)")

	fs.StringVar(&cfg.HTTPAddr, "http", "", "HTTP control API address (empty disables)")
	fs.StringVar(&cfg.RelayURL, "relay", "", "AMQP URL for the order event relay (empty disables)")
	fs.StringVar(&cfg.RelayExchange, "relay-exchange", types.DefaultRelayExchange, "AMQP exchange for the relay")

	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "Log format (console or json)")
	fs.BoolVar(&cfg.NoREPL, "no-repl", false, "Do not read commands from stdin")

	if err := fs.Parse(args); err != nil {
		return types.Config{}, err
	}

	// Fall back to environment variables for flags not given on the command line
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })
	for name, env := range envNames {
		if given[name] {
			continue
		}
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := fs.Set(name, v); err != nil {
				return types.Config{}, fmt.Errorf("invalid %s env variable: %w", env, err)
			}
		}
	}

	cfg.Role = strings.ToLower(strings.TrimSpace(cfg.Role))
	if cfg.Name == "" {
		if cfg.Role == string(protocol.RoleTerminal) {
			cfg.Name = fmt.Sprintf("table-%d", cfg.Table)
		} else {
			cfg.Name = "counter"
		}
	}
	if cfg.DatabaseURL == "" && cfg.DatabaseType == string(store.SQLite) {
		cfg.DatabaseURL = "cafesync-" + cfg.Name + ".db"
	}

	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the device cannot run with. A bad service
// identifier is caught here so it never reaches discovery.
func Validate(cfg types.Config) error {
	var errs []error
	role, err := protocol.ParseRole(cfg.Role)
	if err != nil {
		errs = append(errs, err)
	}
	if role == protocol.RoleTerminal && cfg.Table < 1 {
		errs = append(errs, errors.New("terminal needs a table number >= 1 (use -table or CAFESYNC_TABLE)"))
	}
	if !discovery.ValidateIdentifier(cfg.Service) {
		errs = append(errs, fmt.Errorf("%w: %q (1-15 of a-z, 0-9 and '-', no leading or trailing '-')", discovery.ErrInvalidIdentifier, cfg.Service))
	}
	for name, d := range map[string]int64{
		"beacon": int64(cfg.Beacon), "dial-timeout": int64(cfg.DialTimeout), "settle": int64(cfg.Settle),
		"restart-cooldown": int64(cfg.RestartCooldown), "force-cooldown": int64(cfg.ForceCooldown),
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := store.ParseDialect(cfg.DatabaseType); err != nil {
		errs = append(errs, err)
	} else if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("database URL required (use -db or DATABASE_URL env)"))
	}
	if cfg.Tables < 1 {
		errs = append(errs, errors.New("tables must be >= 1"))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (want console or json)", cfg.LogFormat))
	}
	return errors.Join(errs...)
}
