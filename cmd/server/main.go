// Command lair-chat-server runs the TCP chat server: it accepts
// connections, drives each through the handshake and auth/chat protocol,
// and periodically sweeps expired invitations and sessions. Wiring here
// follows the shape of the teacher's server/main.go (flag parsing, a
// graceful-shutdown context cancelled on os.Interrupt, and ticker-driven
// background sweeps), generalized from the teacher's voice-room/ban-purge
// domain to this system's invitation/session expiry (spec.md §4.5).
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"lair-chat/internal/chat"
	"lair-chat/internal/config"
	"lair-chat/internal/crypto"
	"lair-chat/internal/errs"
	"lair-chat/internal/repo/sqlite"
	"lair-chat/internal/validate"

	apipkg "lair-chat/internal/api"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(cfg.DBPath, slog.Default())
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// argonParams must match newAuthHandler's a.argon exactly: both are
	// built from cfg.Security.Argon2 so password hashes written at
	// registration verify correctly against the deployment's configured
	// cost, not the package defaults.
	argonParams := crypto.Argon2Params{
		MemoryCost: cfg.Security.Argon2.MemoryCost, TimeCost: cfg.Security.Argon2.TimeCost,
		Parallelism: cfg.Security.Argon2.Parallelism, HashLength: cfg.Security.Argon2.HashLength,
		SaltLength: 16,
	}
	users := sqlite.NewUserRepo(store, argonParams)
	rooms := sqlite.NewRoomRepo(store)
	memberships := sqlite.NewMembershipRepo(store)
	messages := sqlite.NewMessageRepo(store)
	invitations := sqlite.NewInvitationRepo(store)
	sessions := sqlite.NewSessionRepo(store)

	breakers := errs.NewRegistry(5, 30*time.Second)
	errStats := errs.NewStats()
	validator := validate.New(validate.Config{RateLimit: validate.RateLimiterConfig{
		RequestsPerWindow: cfg.Limits.MessagesPerMinute,
		Window:            cfg.Limits.RateLimitWindow,
		BurstAllowance:    cfg.Limits.MessagesPerMinute / 4,
	}})

	hub := chat.NewHub(chat.DefaultMailboxCapacity)
	chatRepos := chat.Repos{
		Users: users, Rooms: rooms, Memberships: memberships,
		Messages: messages, Invitations: invitations, Sessions: sessions,
	}
	chatSvc := chat.New(chatRepos, hub, chat.DefaultConfig(), breakers)
	auth := newAuthHandler(users, sessions, cfg)

	deps := &serverDeps{
		cfg: cfg, auth: auth, validator: validator, chatSvc: chatSvc,
		hub: hub, conns: &connCounter{}, errStats: errStats,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	// Periodically expire stale invitations and sessions (spec.md §4.5's
	// expire_old), mirroring the teacher's 10 s mute-expiry/ban-purge
	// ticker in server/main.go.
	go runExpirySweep(ctx, invitations, sessions)

	if cfg.APIAddr != "" {
		api := apipkg.New(deps.conns, validator, breakers, hub, errStats)
		go func() {
			slog.Info("operator http surface listening", "addr", cfg.APIAddr)
			if err := api.Run(ctx, cfg.APIAddr); err != nil {
				slog.Error("operator http surface stopped", "err", err)
			}
		}()
	}

	addr := cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("listen", "addr", addr, "err", err)
		os.Exit(1)
	}
	slog.Info("lair-chat server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				slog.Warn("accept", "err", err)
				continue
			}
		}
		go serveConn(ctx, conn, deps)
	}
}

// expirySweepInterval governs how often ExpireOld runs against the
// invitation and session repositories.
const expirySweepInterval = 1 * time.Minute

type expirer interface {
	ExpireOld(ctx context.Context) (int64, error)
}

func runExpirySweep(ctx context.Context, invitations, sessions expirer) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := invitations.ExpireOld(ctx); err != nil {
				slog.Warn("expire invitations", "err", err)
			} else if n > 0 {
				slog.Debug("expired invitations", "count", n)
			}
			if n, err := sessions.ExpireOld(ctx); err != nil {
				slog.Warn("expire sessions", "err", err)
			} else if n > 0 {
				slog.Debug("expired sessions", "count", n)
			}
		}
	}
}
