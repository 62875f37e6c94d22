package types

import "time"

// Config is every runtime setting of one device. Keep it flat so flags,
// environment variables and .env files map onto it one to one.
type Config struct {
	Role  string // coordinator | terminal
	Table int    // terminals only, >= 1
	Name  string

	Service       string
	ListenAddr    string
	AdvertiseAddr string
	Multicast     string
	Beacon        time.Duration
	AllowLoopback bool

	DialTimeout     time.Duration
	Settle          time.Duration
	RestartCooldown time.Duration
	ForceCooldown   time.Duration

	DatabaseType string // sqlite | postgres
	DatabaseURL  string
	SeedCatalog  bool
	SeedDemo     bool
	Tables       int

	HTTPAddr      string
	RelayURL      string
	RelayExchange string

	LogLevel  string
	LogFormat string // console | json
	NoREPL    bool
}

const (
	DefaultService         = "cafe-sync"
	DefaultListenAddr      = ":7777"
	DefaultMulticast       = "239.255.77.77:9877"
	DefaultBeacon          = time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultSettle          = 300 * time.Millisecond
	DefaultRestartCooldown = 2 * time.Second
	DefaultForceCooldown   = 3 * time.Second
	DefaultTables          = 6
	DefaultRelayExchange   = "cafe.events"
)
