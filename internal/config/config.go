package config // package config loads application configuration from environment variables

import (
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types

	"github.com/sirupsen/logrus" // logrus reports configuration errors and halts execution
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations and costs.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	LogLevel       string // logrus level name (debug, info, warn, ...)
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time‑to‑live in minutes
	RefreshTTLDays int    // refresh token time‑to‑live in days
	BcryptCost     int    // bcrypt cost for password hashing
	LedgerOwner    string // identity allowed to create occasions and withdraw; required on first start only
	OwnerEmail     string // login email of the owner account created at start-up (optional)
	OwnerPassword  string // password for that account when it has to be created
	LedgerName     string // collection name reported by GET /v1/ledger
	LedgerSymbol   string // collection symbol reported by GET /v1/ledger
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),                        // environment (dev/test/prod)
		Port:           must("APP_PORT"),                       // port to bind the HTTP server
		LogLevel:       getenv("LOG_LEVEL", "info"),            // log verbosity
		DBUser:         must("DB_USER"),                        // database user
		DBPass:         os.Getenv("DB_PASS"),                   // database password (empty allowed)
		DBHost:         must("DB_HOST"),                        // database host
		DBPort:         must("DB_PORT"),                        // database port
		DBName:         must("DB_NAME"),                        // database name
		JWTSecret:      must("JWT_SECRET"),                     // secret used for signing JWTs
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),        // TTL for access tokens in minutes
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),      // TTL for refresh tokens in days
		BcryptCost:     mustInt("BCRYPT_COST"),                 // bcrypt cost factor
		LedgerOwner:    os.Getenv("LEDGER_OWNER"),              // owner address, pinned in storage by the first start
		OwnerEmail:     os.Getenv("LEDGER_OWNER_EMAIL"),        // bootstrap login for the owner
		OwnerPassword:  os.Getenv("LEDGER_OWNER_PASSWORD"),     // bootstrap password for the owner
		LedgerName:     getenv("LEDGER_NAME", "OccasiOnChain"), // collection name
		LedgerSymbol:   getenv("LEDGER_SYMBOL", "OCC"),         // collection symbol
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logrus.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		logrus.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
