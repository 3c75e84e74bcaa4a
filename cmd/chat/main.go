package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/backend/remote"
	"github.com/xpresschat/xpress-chat/internal/chat"
	"github.com/xpresschat/xpress-chat/internal/tui"
	"golang.org/x/term"
)

var (
	serverURL string
	email     string
	password  string
	register  bool
	stateDir  string
)

func main() {
	flag.StringVar(&serverURL, "server", "http://localhost:8000", "chat server base URL")
	flag.StringVar(&email, "email", "", "account email")
	flag.StringVar(&password, "password", "", "account password (prompted if empty)")
	flag.BoolVar(&register, "register", false, "create a new account instead of logging in")
	flag.StringVar(&stateDir, "state-dir", "", "directory for session state (defaults to the user config dir)")
	flag.Parse()

	if stateDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "state dir:", err)
			os.Exit(1)
		}
		stateDir = filepath.Join(configDir, "xpress-chat")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "state dir:", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a file instead of stderr.
	logger := newLogger(stateDir)

	client, err := remote.New(serverURL, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server URL:", err)
		os.Exit(1)
	}

	sessions := chat.NewSessionStore(client, stateDir, logger)

	ctx := context.Background()
	uid, err := signIn(ctx, sessions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign in:", err)
		os.Exit(1)
	}

	profiles := chat.NewProfileRepository(client, logger)
	feed := chat.NewMessageFeed(client, logger)
	presence := chat.NewPresenceTracker(profiles, client, logger)

	var controller *chat.Controller
	ui := tui.New(uid, tui.Callbacks{
		Start: func() error {
			return controller.Start(ctx)
		},
		Send: func(text string) error {
			return controller.Send(ctx, text)
		},
		SwitchTheme: func(theme chat.Theme) error {
			return controller.SwitchTheme(ctx, theme)
		},
		Logout: func() error {
			return controller.Logout(ctx)
		},
	})
	controller = chat.NewController(sessions, profiles, feed, presence, ui, logger)

	if err := ui.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "ui:", err)
		os.Exit(1)
	}

	controller.Stop(ctx)
}

func signIn(ctx context.Context, sessions *chat.SessionStore) (string, error) {
	reader := bufio.NewReader(os.Stdin)

	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		email = strings.TrimSpace(line)
	}

	if password == "" {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		password = string(raw)
	}

	if register {
		return sessions.Register(ctx, email, password)
	}

	uid, err := sessions.Login(ctx, email, password)
	if errors.Is(err, backend.ErrUserNotFound) {
		return "", fmt.Errorf("no account for %s (use -register to create one)", email)
	}
	return uid, err
}

func newLogger(stateDir string) *log.Logger {
	var out io.Writer = io.Discard
	f, err := os.OpenFile(filepath.Join(stateDir, "chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err == nil {
		out = f
	}
	return log.New(out, "[chat] ", log.LstdFlags)
}
