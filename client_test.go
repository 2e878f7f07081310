package lockbox

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_RequiresUserID(t *testing.T) {
	if _, err := New("", "token"); err == nil {
		t.Fatal("New() with empty user id should fail")
	}
}

func TestSessionExpiry_HandlerAndSentinel(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")

	expired := 0
	alice := newTestClient(t, b, "alice", "bogus-token",
		WithSessionExpiredHandler(func() { expired++ }))
	ctx := context.Background()

	err := alice.RefreshContacts(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("RefreshContacts() with rejected token = %v, want ErrSessionExpired", err)
	}
	if expired != 1 {
		t.Errorf("session-expired handler fired %d times, want 1", expired)
	}
	if alice.HasSession() {
		t.Error("HasSession() = true after the backend rejected the token")
	}

	// Until re-authentication every call short-circuits locally.
	err = alice.RefreshContacts(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("RefreshContacts() without session = %v, want ErrSessionExpired", err)
	}
	if expired != 1 {
		t.Errorf("handler fired again for a local short-circuit (%d times)", expired)
	}

	alice.SetToken("tok-a")
	if !alice.HasSession() {
		t.Fatal("HasSession() = false after SetToken")
	}
	if err := alice.RefreshContacts(ctx); err != nil {
		t.Errorf("RefreshContacts() after re-auth error = %v", err)
	}
}

func TestLoadKeys_AcrossSessions(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")
	keyDir := t.TempDir()
	ctx := context.Background()

	first := newTestClient(t, b, "alice", "tok-a", WithKeyDir(keyDir))
	if err := first.GenerateKeys(ctx); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	// Wipe the published keys so the republish is observable.
	b.mu.Lock()
	published := b.keys["alice"]
	delete(b.keys, "alice")
	b.mu.Unlock()

	second := newTestClient(t, b, "alice", "tok-a", WithKeyDir(keyDir))
	if second.HasKeys() {
		t.Fatal("HasKeys() = true before LoadKeys")
	}
	ok, err := second.LoadKeys(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadKeys() = (%v, %v), want (true, nil)", ok, err)
	}
	if !second.HasKeys() {
		t.Error("HasKeys() = false after a successful load")
	}

	// The public halves are re-published in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		got, found := b.keys["alice"]
		b.mu.Unlock()
		if found {
			if got != published {
				t.Error("republished keys differ from the originally generated ones")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("keys were not republished after LoadKeys")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadKeys_NoMaterial(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")
	alice := newTestClient(t, b, "alice", "tok-a")

	ok, err := alice.LoadKeys(context.Background())
	if err != nil || ok {
		t.Fatalf("LoadKeys() without persisted keys = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestClearKeys(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")
	alice := newTestClient(t, b, "alice", "tok-a")
	ctx := context.Background()

	if err := alice.GenerateKeys(ctx); err != nil {
		t.Fatal(err)
	}
	if !alice.HasKeys() {
		t.Fatal("HasKeys() = false after GenerateKeys")
	}

	if err := alice.ClearKeys(); err != nil {
		t.Fatal(err)
	}
	if alice.HasKeys() {
		t.Error("HasKeys() = true after ClearKeys")
	}
	if ok, err := alice.LoadKeys(ctx); err != nil || ok {
		t.Errorf("LoadKeys() after clear = (%v, %v), want (false, nil)", ok, err)
	}
	if err := alice.LoadAll(ctx); !errors.Is(err, ErrNoKeyMaterial) {
		t.Errorf("LoadAll() after clear = %v, want ErrNoKeyMaterial", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")
	alice := newTestClient(t, b, "alice", "tok-a")

	if err := alice.Close(); err != nil {
		t.Fatal(err)
	}
	if err := alice.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := alice.GenerateKeys(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("GenerateKeys() after Close = %v, want ErrClientClosed", err)
	}
	if _, err := alice.Send(context.Background(), "bob", "hi"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send() after Close = %v, want ErrClientClosed", err)
	}
}

func TestCache_RestoresAcrossSessions(t *testing.T) {
	b := newFakeBackend(t)
	b.addUser("alice", "tok-a")
	b.addUser("bob", "tok-b")
	keyDir := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "alice.cache")
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	open := func() *Client {
		c, err := New("alice", "tok-a",
			WithBaseURL(b.URL),
			WithKeyDir(keyDir),
			WithCachePath(cachePath),
			WithRealtime(false),
			WithLogger(logger),
		)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	bob := newTestClient(t, b, "bob", "tok-b")
	first := open()
	activatePeers(t, b, first, bob)
	if _, err := first.Send(ctx, "bob", "remember me"); err != nil {
		t.Fatal(err)
	}
	// An in-flight entry that will not survive the session.
	first.appendOptimistic(Message{
		ClientID:    "local-stuck",
		SenderID:    "alice",
		RecipientID: "bob",
		Body:        "stuck",
		Own:         true,
		Status:      StatusSending,
		CreatedAt:   time.Now().UTC(),
	})
	first.persistSnapshot()
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := open()
	defer second.Close()

	contact, ok := second.Contact("bob")
	if !ok {
		t.Fatal("contact not restored from cache")
	}
	if contact.Status != ContactActive {
		t.Errorf("restored contact status = %q", contact.Status)
	}

	conv := second.Conversation("bob")
	if len(conv) != 2 {
		t.Fatalf("restored conversation has %d messages, want 2", len(conv))
	}
	byClient := map[string]Message{}
	for _, m := range conv {
		byClient[m.ClientID] = m
	}
	if got := byClient["local-stuck"].Status; got != StatusFailed {
		t.Errorf("in-flight entry restored as %q, want %q", got, StatusFailed)
	}
	for _, m := range conv {
		if m.Body == "remember me" && !m.Own {
			t.Error("restored message lost ownership attribution")
		}
	}
}
