package config // package config loads application configuration from environment variables

import (
    "errors"  // errors joins validation failures
    "fmt"     // fmt formats validation messages
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "strings" // strings normalises enum values
    "time"    // time parses durations

    "github.com/joho/godotenv" // godotenv loads an optional .env file
)

// Ledger backends.
const (
    LedgerMemory = "memory"
    LedgerRedis  = "redis"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
    Env               string        // application environment (e.g. "dev", "prod")
    Port              string        // HTTP port to listen on
    DBUser            string        // database username
    DBPass            string        // database password (optional)
    DBHost            string        // database host address
    DBPort            string        // database port number
    DBName            string        // database name
    DBMigrate         bool          // create tables on start
    JWTSecret         string        // secret that signs session JWTs
    ScopedTokenSecret string        // secret for schedule/snack tokens; JWTSecret when empty
    ScopedTokenTTL    time.Duration // lifetime of issued scoped tokens
    LedgerBackend     string        // "memory" or "redis"
    LedgerPrefix      string        // redis key prefix of the seat ledger
    SeatHoldTTL       time.Duration // expiry of provisional holds in the redis ledger
    BookingTimeout    time.Duration // upper bound of one booking attempt
    RabbitURL         string        // AMQP url; events are disabled when empty
    ConsumerEnabled   bool          // run the booking.confirmed consumer in-process
    LogLevel          string        // zap level (debug, info, warn, error)
}

// Load reads an optional .env file and then the environment.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.  Values already present in the
// environment win over the .env file.
func Load() Config {
    _ = godotenv.Load() // a missing .env is fine
    return Config{
        Env:               must("APP_ENV"),
        Port:              must("APP_PORT"),
        DBUser:            must("DB_USER"),
        DBPass:            os.Getenv("DB_PASS"), // empty allowed
        DBHost:            must("DB_HOST"),
        DBPort:            must("DB_PORT"),
        DBName:            must("DB_NAME"),
        DBMigrate:         envBool("DB_MIGRATE", false),
        JWTSecret:         must("JWT_SECRET"),
        ScopedTokenSecret: os.Getenv("SCOPED_TOKEN_SECRET"),
        ScopedTokenTTL:    envDur("SCOPED_TOKEN_TTL", 15*time.Minute),
        LedgerBackend:     strings.ToLower(envStr("LEDGER_BACKEND", LedgerMemory)),
        LedgerPrefix:      envStr("LEDGER_PREFIX", "ledger"),
        SeatHoldTTL:       envDur("SEAT_HOLD_TTL", 2*time.Minute),
        BookingTimeout:    envDur("BOOKING_TIMEOUT", 10*time.Second),
        RabbitURL:         rabbitURL(),
        ConsumerEnabled:   envBool("CONSUMER_ENABLED", false),
        LogLevel:          os.Getenv("LOG_LEVEL"),
    }
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
    var errs []error
    if _, err := strconv.Atoi(c.Port); err != nil {
        errs = append(errs, fmt.Errorf("APP_PORT must be numeric, got %q", c.Port))
    }
    if len(c.JWTSecret) < 16 {
        errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
    }
    if c.ScopedTokenTTL <= 0 {
        errs = append(errs, errors.New("SCOPED_TOKEN_TTL must be positive"))
    }
    switch c.LedgerBackend {
    case LedgerMemory, LedgerRedis:
    default:
        errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", LedgerMemory, LedgerRedis, c.LedgerBackend))
    }
    if c.SeatHoldTTL <= c.BookingTimeout {
        errs = append(errs, errors.New("SEAT_HOLD_TTL must be longer than BOOKING_TIMEOUT"))
    }
    if c.BookingTimeout <= 0 {
        errs = append(errs, errors.New("BOOKING_TIMEOUT must be positive"))
    }
    if c.ConsumerEnabled && c.RabbitURL == "" {
        errs = append(errs, errors.New("CONSUMER_ENABLED requires RABBITMQ_URL"))
    }
    return errors.Join(errs...)
}

// rabbitURL accepts both names the deployment scripts use.
func rabbitURL() string {
    if v := os.Getenv("RABBITMQ_URL"); v != "" {
        return v
    }
    return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}
