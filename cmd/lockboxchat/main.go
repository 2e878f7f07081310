// Command lockboxchat is a small scriptable front end for the LockBox
// client, used for smoke tests and cross-SDK checks. Every command reads
// the session from LOCKBOX_USER_ID / LOCKBOX_TOKEN / LOCKBOX_URL and
// writes JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	lockbox "github.com/lockbox/client-go"
)

type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func run(args []string, cfg Config) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: lockboxchat <command> [args]")
	}

	userID := os.Getenv("LOCKBOX_USER_ID")
	token := os.Getenv("LOCKBOX_TOKEN")
	if userID == "" || token == "" {
		return fmt.Errorf("LOCKBOX_USER_ID and LOCKBOX_TOKEN are required")
	}

	opts := []lockbox.Option{}
	if url := os.Getenv("LOCKBOX_URL"); url != "" {
		opts = append(opts, lockbox.WithBaseURL(url))
	}
	if args[1] == "listen" {
		enc := json.NewEncoder(cfg.Stdout)
		opts = append(opts,
			lockbox.WithMessageHandler(func(msg lockbox.Message) {
				enc.Encode(map[string]any{"event": "message", "message": messageOutput(msg)})
			}),
			lockbox.WithChatRequestHandler(func(req lockbox.ChatRequest) {
				enc.Encode(map[string]any{"event": "chat_request", "from": req.FromUserID})
			}),
		)
	} else {
		opts = append(opts, lockbox.WithRealtime(false))
	}
	client, err := lockbox.New(userID, token, opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch args[1] {
	case "keys":
		return ensureKeys(ctx, client, cfg)
	case "contacts":
		return listContacts(ctx, client, cfg)
	case "requests":
		return listRequests(ctx, client, cfg)
	case "request":
		if len(args) < 3 {
			return fmt.Errorf("usage: lockboxchat request <user-id> [message]")
		}
		intro := ""
		if len(args) > 3 {
			intro = args[3]
		}
		return sendRequest(ctx, client, cfg, args[2], intro)
	case "accept":
		if len(args) < 3 {
			return fmt.Errorf("usage: lockboxchat accept <request-id>")
		}
		return acceptRequest(ctx, client, cfg, args[2])
	case "send":
		if len(args) < 4 {
			return fmt.Errorf("usage: lockboxchat send <user-id> <body>")
		}
		return sendMessage(ctx, client, cfg, args[2], args[3])
	case "history":
		if len(args) < 3 {
			return fmt.Errorf("usage: lockboxchat history <user-id>")
		}
		return showHistory(ctx, client, cfg, args[2])
	case "listen":
		return listen(client, cfg)
	default:
		return fmt.Errorf("unknown command: %s", args[1])
	}
}

type ContactOutput struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Status      string `json:"status"`
	UnreadCount int    `json:"unreadCount"`
	LastMessage string `json:"lastMessage,omitempty"`
}

type RequestOutput struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type MessageOutput struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Verified  bool   `json:"verified"`
	Degraded  bool   `json:"degraded,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func messageOutput(msg lockbox.Message) MessageOutput {
	return MessageOutput{
		ID:        msg.ID,
		From:      msg.SenderID,
		To:        msg.RecipientID,
		Body:      msg.Body,
		Status:    string(msg.Status),
		Verified:  msg.Verified,
		Degraded:  msg.Degraded,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
}

// ensureKeys loads persisted identity keys, generating a fresh set when
// none exist yet.
func ensureKeys(ctx context.Context, client *lockbox.Client, cfg Config) error {
	loaded, err := client.LoadKeys(ctx)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if !loaded {
		if err := client.GenerateKeys(ctx); err != nil {
			return fmt.Errorf("generate keys: %w", err)
		}
	}
	return json.NewEncoder(cfg.Stdout).Encode(map[string]bool{"generated": !loaded})
}

func listContacts(ctx context.Context, client *lockbox.Client, cfg Config) error {
	if err := client.RefreshContacts(ctx); err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}

	contacts := client.Contacts()
	output := struct {
		Contacts []ContactOutput `json:"contacts"`
	}{
		Contacts: make([]ContactOutput, 0, len(contacts)),
	}
	for _, c := range contacts {
		output.Contacts = append(output.Contacts, ContactOutput{
			ID:          c.ID,
			Username:    c.Username,
			Status:      string(c.Status),
			UnreadCount: c.UnreadCount,
			LastMessage: c.LastMessage,
		})
	}
	return json.NewEncoder(cfg.Stdout).Encode(output)
}

func listRequests(ctx context.Context, client *lockbox.Client, cfg Config) error {
	requests, err := client.IncomingRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	output := struct {
		Requests []RequestOutput `json:"requests"`
	}{
		Requests: make([]RequestOutput, 0, len(requests)),
	}
	for _, r := range requests {
		output.Requests = append(output.Requests, RequestOutput{
			ID:        r.ID,
			From:      r.FromUserID,
			Message:   r.Message,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		})
	}
	return json.NewEncoder(cfg.Stdout).Encode(output)
}

func sendRequest(ctx context.Context, client *lockbox.Client, cfg Config, target, intro string) error {
	if err := client.RefreshContacts(ctx); err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}
	if err := client.RequestChat(ctx, target, intro); err != nil {
		return fmt.Errorf("request chat: %w", err)
	}
	return json.NewEncoder(cfg.Stdout).Encode(map[string]bool{"success": true})
}

func acceptRequest(ctx context.Context, client *lockbox.Client, cfg Config, requestID string) error {
	requests, err := client.IncomingRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	for _, r := range requests {
		if r.ID == requestID {
			if err := client.Accept(ctx, r); err != nil {
				return fmt.Errorf("accept request: %w", err)
			}
			return json.NewEncoder(cfg.Stdout).Encode(map[string]bool{"success": true})
		}
	}
	return fmt.Errorf("no pending request with id %s", requestID)
}

func sendMessage(ctx context.Context, client *lockbox.Client, cfg Config, target, body string) error {
	if err := ensureLoadedKeys(ctx, client); err != nil {
		return err
	}
	if err := client.RefreshContacts(ctx); err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}

	msg, err := client.Send(ctx, target, body)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("%s is not an active contact", target)
	}
	return json.NewEncoder(cfg.Stdout).Encode(messageOutput(*msg))
}

func showHistory(ctx context.Context, client *lockbox.Client, cfg Config, target string) error {
	if err := ensureLoadedKeys(ctx, client); err != nil {
		return err
	}
	if err := client.RefreshContacts(ctx); err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}
	if err := client.LoadConversation(ctx, target); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	messages := client.Conversation(target)
	output := struct {
		Messages []MessageOutput `json:"messages"`
	}{
		Messages: make([]MessageOutput, 0, len(messages)),
	}
	for _, msg := range messages {
		output.Messages = append(output.Messages, messageOutput(msg))
	}
	return json.NewEncoder(cfg.Stdout).Encode(output)
}

func ensureLoadedKeys(ctx context.Context, client *lockbox.Client) error {
	loaded, err := client.LoadKeys(ctx)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if !loaded {
		return fmt.Errorf("no identity keys, run 'lockboxchat keys' first")
	}
	return nil
}

// listen streams incoming messages and chat requests as JSON lines until
// interrupted. The push handlers are installed by run before the client
// is built.
func listen(client *lockbox.Client, cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := ensureLoadedKeys(ctx, client); err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	fmt.Fprintln(cfg.Stderr, "listening, ctrl-c to stop")
	<-ctx.Done()
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
