// Package config defines the server's configuration surface (spec.md §6).
// It follows the teacher's flag.FlagSet block in server/main.go for the
// base defaults, layered with a LAIR_CHAT_<SECTION>_<FIELD> environment
// overlay loaded via godotenv -- the ambient-stack addition SPEC_FULL.md
// calls for so deployments can override any field without editing a
// flag invocation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server covers the listener and connection-lifecycle fields of spec.md
// §6's "server" section.
type Server struct {
	Host              string
	Port              int
	MaxConnections    int
	ConnectionTimeout time.Duration
	EnableTLS         bool
}

// Argon2 covers the password-hashing cost parameters (spec.md §6
// "security.argon2").
type Argon2 struct {
	MemoryCost  uint32
	TimeCost    uint32
	Parallelism uint8
	HashLength  uint32
}

// Security covers the auth/session hardening fields of spec.md §6's
// "security" section.
type Security struct {
	EnableEncryption    bool
	SessionTimeout      time.Duration
	MaxLoginAttempts    int
	LockoutDuration     time.Duration
	PasswordMinLength   int
	RotateRefreshTokens bool
	Argon2              Argon2
}

// Limits covers the rate/size ceilings of spec.md §6's "limits" section.
type Limits struct {
	MessagesPerMinute  int
	MaxMessageLength   int
	MaxUsersPerRoom    int
	MaxConnectionsPerIP int
	RateLimitWindow    time.Duration
}

// Config is the fully resolved configuration for one server process.
type Config struct {
	Server   Server
	Security Security
	Limits   Limits

	DBPath  string
	APIAddr string // empty disables the operator HTTP surface (spec.md §4.11).
}

// Default returns the baseline configuration, matching the teacher's
// flag defaults (server/main.go) generalized to this system's fields.
func Default() Config {
	return Config{
		Server: Server{
			Host:              "0.0.0.0",
			Port:              8443,
			MaxConnections:    500,
			ConnectionTimeout: 30 * time.Second,
			EnableTLS:         false,
		},
		Security: Security{
			EnableEncryption:    true,
			SessionTimeout:      24 * time.Hour,
			MaxLoginAttempts:    5,
			LockoutDuration:     15 * time.Minute,
			PasswordMinLength:   8,
			RotateRefreshTokens: true,
			Argon2: Argon2{
				MemoryCost:  64 * 1024,
				TimeCost:    3,
				Parallelism: 2,
				HashLength:  32,
			},
		},
		Limits: Limits{
			MessagesPerMinute:   60,
			MaxMessageLength:    2048,
			MaxUsersPerRoom:     500,
			MaxConnectionsPerIP: 10,
			RateLimitWindow:     time.Minute,
		},
		DBPath:  "lair-chat.db",
		APIAddr: ":8080",
	}
}

// Load builds a Config from flag defaults, command-line args, and then a
// LAIR_CHAT_<SECTION>_<FIELD> environment overlay (loaded from a .env
// file via godotenv when one is present, matching the teacher's habit of
// reading an adjacent .env for local dev -- see rustyguts-bken's use of
// environment-driven overrides alongside its flag block). The environment
// always wins over both the flag default and an explicit flag value,
// since it is the layer an operator reaches for last.
func Load(args []string) (Config, error) {
	_ = godotenv.Load() // best-effort; absence of a .env is not an error.

	cfg := Default()
	fs := flag.NewFlagSet("lair-chat-server", flag.ContinueOnError)

	host := fs.String("host", cfg.Server.Host, "listen host")
	port := fs.Int("port", cfg.Server.Port, "listen port")
	maxConnections := fs.Int("max-connections", cfg.Server.MaxConnections, "maximum total connections (not enforced by the server)")
	connTimeout := fs.Duration("connection-timeout", cfg.Server.ConnectionTimeout, "per-connection idle timeout")
	enableTLS := fs.Bool("enable-tls", cfg.Server.EnableTLS, "TLS at the listener (not implemented; the listener is plain TCP)")

	enableEncryption := fs.Bool("enable-encryption", cfg.Security.EnableEncryption, "require the post-handshake AEAD layer (not read by the server; the AEAD layer is always used)")
	sessionTimeout := fs.Duration("session-timeout", cfg.Security.SessionTimeout, "session token lifetime")
	maxLoginAttempts := fs.Int("max-login-attempts", cfg.Security.MaxLoginAttempts, "failed logins before lockout")
	lockoutDuration := fs.Duration("lockout-duration", cfg.Security.LockoutDuration, "lockout duration after max login attempts")
	passwordMinLength := fs.Int("password-min-length", cfg.Security.PasswordMinLength, "minimum password length")
	rotateRefreshTokens := fs.Bool("rotate-refresh-tokens", cfg.Security.RotateRefreshTokens, "issue a new token on every refresh")
	argonMemoryCost := fs.Int("argon2-memory-cost", int(cfg.Security.Argon2.MemoryCost), "argon2id memory cost in KiB")
	argonTimeCost := fs.Int("argon2-time-cost", int(cfg.Security.Argon2.TimeCost), "argon2id time cost")
	argonParallelism := fs.Int("argon2-parallelism", int(cfg.Security.Argon2.Parallelism), "argon2id parallelism")
	argonHashLength := fs.Int("argon2-hash-length", int(cfg.Security.Argon2.HashLength), "argon2id derived key length")

	messagesPerMinute := fs.Int("messages-per-minute", cfg.Limits.MessagesPerMinute, "per-user message rate limit")
	maxMessageLength := fs.Int("max-message-length", cfg.Limits.MaxMessageLength, "maximum message content length (not read by the server; model.MaxMessageContent applies)")
	maxUsersPerRoom := fs.Int("max-users-per-room", cfg.Limits.MaxUsersPerRoom, "maximum members per room (not enforced by the server)")
	maxConnectionsPerIP := fs.Int("max-connections-per-ip", cfg.Limits.MaxConnectionsPerIP, "maximum connections from one IP (not enforced by the server)")
	rateLimitWindow := fs.Duration("rate-limit-window", cfg.Limits.RateLimitWindow, "rate limiter bucket window")

	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	apiAddr := fs.String("api-addr", cfg.APIAddr, "operator HTTP surface listen address (empty to disable)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Server = Server{
		Host: *host, Port: *port, MaxConnections: *maxConnections,
		ConnectionTimeout: *connTimeout, EnableTLS: *enableTLS,
	}
	cfg.Security = Security{
		EnableEncryption: *enableEncryption, SessionTimeout: *sessionTimeout,
		MaxLoginAttempts: *maxLoginAttempts, LockoutDuration: *lockoutDuration,
		PasswordMinLength: *passwordMinLength, RotateRefreshTokens: *rotateRefreshTokens,
		Argon2: Argon2{
			MemoryCost:  uint32(*argonMemoryCost),
			TimeCost:    uint32(*argonTimeCost),
			Parallelism: uint8(*argonParallelism),
			HashLength:  uint32(*argonHashLength),
		},
	}
	cfg.Limits = Limits{
		MessagesPerMinute: *messagesPerMinute, MaxMessageLength: *maxMessageLength,
		MaxUsersPerRoom: *maxUsersPerRoom, MaxConnectionsPerIP: *maxConnectionsPerIP,
		RateLimitWindow: *rateLimitWindow,
	}
	cfg.DBPath = *dbPath
	cfg.APIAddr = *apiAddr

	applyEnvOverlay(&cfg)
	return cfg, nil
}

// applyEnvOverlay overrides cfg fields from LAIR_CHAT_<SECTION>_<FIELD>
// environment variables, e.g. LAIR_CHAT_SERVER_PORT or
// LAIR_CHAT_LIMITS_MAX_MESSAGE_LENGTH (spec.md's "[ADD] Configuration
// surface" in SPEC_FULL.md).
func applyEnvOverlay(cfg *Config) {
	str := func(section, field string, dst *string) {
		if v, ok := lookupEnv(section, field); ok {
			*dst = v
		}
	}
	integer := func(section, field string, dst *int) {
		if v, ok := lookupEnv(section, field); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	u32 := func(section, field string, dst *uint32) {
		if v, ok := lookupEnv(section, field); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				*dst = uint32(n)
			}
		}
	}
	u8 := func(section, field string, dst *uint8) {
		if v, ok := lookupEnv(section, field); ok {
			if n, err := strconv.ParseUint(v, 10, 8); err == nil {
				*dst = uint8(n)
			}
		}
	}
	boolean := func(section, field string, dst *bool) {
		if v, ok := lookupEnv(section, field); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	duration := func(section, field string, dst *time.Duration) {
		if v, ok := lookupEnv(section, field); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("SERVER", "HOST", &cfg.Server.Host)
	integer("SERVER", "PORT", &cfg.Server.Port)
	integer("SERVER", "MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	duration("SERVER", "CONNECTION_TIMEOUT", &cfg.Server.ConnectionTimeout)
	boolean("SERVER", "ENABLE_TLS", &cfg.Server.EnableTLS)

	boolean("SECURITY", "ENABLE_ENCRYPTION", &cfg.Security.EnableEncryption)
	duration("SECURITY", "SESSION_TIMEOUT", &cfg.Security.SessionTimeout)
	integer("SECURITY", "MAX_LOGIN_ATTEMPTS", &cfg.Security.MaxLoginAttempts)
	duration("SECURITY", "LOCKOUT_DURATION", &cfg.Security.LockoutDuration)
	integer("SECURITY", "PASSWORD_MIN_LENGTH", &cfg.Security.PasswordMinLength)
	boolean("SECURITY", "ROTATE_REFRESH_TOKENS", &cfg.Security.RotateRefreshTokens)
	u32("SECURITY", "ARGON2_MEMORY_COST", &cfg.Security.Argon2.MemoryCost)
	u32("SECURITY", "ARGON2_TIME_COST", &cfg.Security.Argon2.TimeCost)
	u8("SECURITY", "ARGON2_PARALLELISM", &cfg.Security.Argon2.Parallelism)
	u32("SECURITY", "ARGON2_HASH_LENGTH", &cfg.Security.Argon2.HashLength)

	integer("LIMITS", "MESSAGES_PER_MINUTE", &cfg.Limits.MessagesPerMinute)
	integer("LIMITS", "MAX_MESSAGE_LENGTH", &cfg.Limits.MaxMessageLength)
	integer("LIMITS", "MAX_USERS_PER_ROOM", &cfg.Limits.MaxUsersPerRoom)
	integer("LIMITS", "MAX_CONNECTIONS_PER_IP", &cfg.Limits.MaxConnectionsPerIP)
	duration("LIMITS", "RATE_LIMIT_WINDOW", &cfg.Limits.RateLimitWindow)

	str("", "DB", &cfg.DBPath)
	str("", "API_ADDR", &cfg.APIAddr)
}

func lookupEnv(section, field string) (string, bool) {
	var key string
	if section == "" {
		key = "LAIR_CHAT_" + field
	} else {
		key = "LAIR_CHAT_" + section + "_" + field
	}
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Addr returns the "host:port" listen address for the main TCP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
