package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/collabcode/client/internal/discovery"
	"github.com/collabcode/client/internal/docsync"
	"github.com/collabcode/client/internal/editor"
	"github.com/collabcode/client/internal/history"
	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/session"
)

var (
	flagRelay   string
	flagSession string
	flagUser    string
	flagName    string
	flagRole    string
	flagDataDir string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a session and relay chat/terminal/edits from stdin",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&flagRelay, "relay", getEnv("COLLAB_RELAY_URL", ""),
		"relay websocket URL (discovered via mDNS when empty)")
	joinCmd.Flags().StringVar(&flagSession, "session", "", "session id to join")
	joinCmd.Flags().StringVar(&flagUser, "user", "", "participant id (generated when empty)")
	joinCmd.Flags().StringVar(&flagName, "name", getEnv("USER", "anonymous"), "display name")
	joinCmd.Flags().StringVar(&flagRole, "role", string(model.RoleEditor), "requested role: owner, editor or viewer")
	joinCmd.Flags().StringVar(&flagDataDir, "data-dir", getEnv("COLLAB_DATA_DIR", "data"),
		"directory for transcript history and document cache")
	joinCmd.MarkFlagRequired("session")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	relayURL := flagRelay
	if relayURL == "" {
		log.Printf("no relay configured, browsing the local network")
		found, err := discovery.FindRelay(ctx, discovery.DefaultTimeout)
		if err != nil {
			return err
		}
		relayURL = found
		log.Printf("discovered relay at %s", relayURL)
	}

	userID := flagUser
	if userID == "" {
		userID = uuid.New().String()
	}
	role := model.Role(flagRole)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", flagRole)
	}

	if err := os.MkdirAll(flagDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := history.Open(filepath.Join(flagDataDir, "history.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	cache, err := docsync.OpenCache(filepath.Join(flagDataDir, "documents.cache"))
	if err != nil {
		return err
	}
	defer cache.Close()

	buf := editor.NewMemoryBuffer()
	ctrl := session.NewController(session.Config{
		RelayURL:      relayURL,
		SessionID:     flagSession,
		UserID:        userID,
		UserName:      flagName,
		Role:          role,
		HistoryStore:  history.NewStore(db),
		DocumentCache: cache,
		OnStateChange: func(state model.SessionState) {
			fmt.Printf("-- session %s\n", state)
		},
		OnError: func(message string) {
			fmt.Printf("-- error: %s\n", message)
		},
		OnConnectionStatus: func(connected bool) {
			if connected {
				fmt.Println("-- connected")
			} else {
				fmt.Println("-- disconnected")
			}
		},
	}, buf)

	ctrl.Chat().OnAppend(func(msg model.ChatMessage) {
		if msg.IsSystem {
			fmt.Printf("-- %s\n", msg.Text)
			return
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.UserName, msg.Text)
	})
	ctrl.Terminal().OnAppend(func(entry model.TerminalEntry) {
		switch entry.Kind {
		case model.TerminalEntryCommand:
			fmt.Printf("$ %s\n", entry.Text)
		default:
			fmt.Println(entry.Text)
		}
	})
	ctrl.Executor().OnResult(func(result model.ExecutionResult) {
		if result.Stdout != "" {
			fmt.Println(result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprintln(os.Stderr, result.Stderr)
		}
	})

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Leave()

	return inputLoop(ctrl, buf)
}

// inputLoop maps stdin lines to session actions: plain lines are chat,
// "!cmd" runs a terminal command, and ":" prefixes drive files and
// execution.
func inputLoop(ctrl *session.Controller, buf *editor.MemoryBuffer) error {
	fmt.Println("-- type :help for commands")
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case line == ":quit":
			return nil
		case line == ":help":
			fmt.Println("  <text>          send chat")
			fmt.Println("  !<command>      run terminal command")
			fmt.Println("  :files          list session files")
			fmt.Println("  :open <name>    open a file")
			fmt.Println("  :show           print the open file")
			fmt.Println("  :edit <text>    replace the open file's content")
			fmt.Println("  :new <name>     create a file")
			fmt.Println("  :rm <name>      delete a file")
			fmt.Println("  :run            execute the open file")
			fmt.Println("  :who            list participants")
			fmt.Println("  :quit           leave the session")
		case line == ":files":
			for _, f := range ctrl.Files().Files() {
				marker := "  "
				if f.Name == ctrl.Files().ActiveFile() {
					marker = "* "
				}
				fmt.Printf("%s%s\n", marker, f.Name)
			}
		case line == ":show":
			fmt.Println(buf.GetValue())
		case line == ":who":
			if s, ok := ctrl.Session(); ok {
				for _, p := range s.Participants {
					fmt.Printf("  %s (%s)\n", p.Name, p.Role)
				}
			}
		case line == ":run":
			name := ctrl.Files().ActiveFile()
			if name == "" {
				fmt.Printf("-- %v\n", model.ErrNoActiveFile)
				continue
			}
			file, _ := ctrl.Files().Lookup(name)
			if err := ctrl.Executor().Execute(buf.GetValue(), file.Language, name); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		case strings.HasPrefix(line, ":open "):
			ctrl.Files().SetActiveFile(strings.TrimSpace(strings.TrimPrefix(line, ":open ")))
		case strings.HasPrefix(line, ":edit "):
			buf.Edit(strings.TrimPrefix(line, ":edit "))
		case strings.HasPrefix(line, ":new "):
			name := strings.TrimSpace(strings.TrimPrefix(line, ":new "))
			if err := ctrl.Files().Create(name, "", ""); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		case strings.HasPrefix(line, ":rm "):
			name := strings.TrimSpace(strings.TrimPrefix(line, ":rm "))
			if err := ctrl.Files().Delete(name); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		case strings.HasPrefix(line, "!"):
			if err := ctrl.Terminal().Run(strings.TrimPrefix(line, "!")); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		default:
			if err := ctrl.Chat().Send(line); err != nil {
				fmt.Printf("-- %v\n", err)
			}
		}

		if ctrl.State() == model.SessionStateFailed {
			return fmt.Errorf("session failed")
		}
	}
	return scanner.Err()
}
