// Command lair-chat-client is a minimal line-oriented terminal front end
// (spec.md §1: "TUI/CLI ergonomics remain thin"): it reads commands from
// stdin and prints whatever the server sends back, with no curses-style
// rendering. All connection handling is delegated to
// internal/connmanager, which owns the transport handshake, the
// auth/chat round trips, and the background receive loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"lair-chat/internal/authproto"
	"lair-chat/internal/chat"
	"lair-chat/internal/connmanager"
	"lair-chat/internal/sessionfsm"
)

func main() {
	addr := flag.String("addr", "localhost:8443", "server address")
	flag.Parse()

	mgr := connmanager.New(connmanager.Observers{
		OnMessage:      printEnvelope,
		OnError:        func(err error) { fmt.Fprintln(os.Stderr, "connection error:", err) },
		OnStatusChange: func(s sessionfsm.State) { slog.Debug("status change", "state", s) },
	})

	ctx := context.Background()
	if err := mgr.Connect(ctx, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	fmt.Println("connected to", *addr)
	fmt.Println("commands: /register user pass [email] | /login user pass | /logout | anything else is sent as-is")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(mgr, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	mgr.Disconnect()
}

func handleLine(mgr *connmanager.Manager, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/register":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /register username password [email]")
		}
		email := ""
		if len(fields) > 3 {
			email = fields[3]
		}
		resp, err := mgr.Register(fields[1], fields[2], email)
		if err != nil {
			return err
		}
		printAuthResponse(resp)
		return nil
	case "/login":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /login username password")
		}
		resp, err := mgr.Login(fields[1], fields[2])
		if err != nil {
			return err
		}
		printAuthResponse(resp)
		return nil
	case "/logout":
		session, _, ok := mgr.View()
		if !ok {
			return fmt.Errorf("not logged in")
		}
		return mgr.Logout(session.Token)
	default:
		return mgr.SendChat(line)
	}
}

func printAuthResponse(resp authproto.Response) {
	if resp.Status == authproto.StatusErr {
		fmt.Println("auth failed:", resp.Code, resp.Message)
		return
	}
	if resp.Profile != nil {
		fmt.Println("authenticated as", resp.Profile.Username)
	}
}

func printEnvelope(env chat.Envelope) {
	switch env.Type {
	case chat.EnvMessage:
		if env.Message != nil {
			fmt.Printf("[%s] %s: %s\n", env.Message.RoomID, env.Message.AuthorID, env.Message.Content)
		}
	case chat.EnvError:
		fmt.Println("error:", env.Code, env.Reason)
	default:
		fmt.Printf("%+v\n", env)
	}
}
