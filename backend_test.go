package lockbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lockbox/client-go/internal/api"
)

// fakeBackend is an in-memory stand-in for the LockBox relay backend,
// shared by all clients in a test. Tokens map to user ids.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	tokens   map[string]string
	keys     map[string]api.PeerKeys
	contacts map[string][]api.ContactRecord
	pending  map[string][]api.ContactRecord
	requests map[string][]api.ChatRequestRecord
	messages []api.MessageRecord
	nextID   int

	sendCalls int
	failSends bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		tokens:   make(map[string]string),
		keys:     make(map[string]api.PeerKeys),
		contacts: make(map[string][]api.ContactRecord),
		pending:  make(map[string][]api.ContactRecord),
		requests: make(map[string][]api.ChatRequestRecord),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) addUser(userID, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = userID
}

func (b *fakeBackend) addContact(owner string, contact api.ContactRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[owner] = append(b.contacts[owner], contact)
}

func (b *fakeBackend) addRequest(recipient string, req api.ChatRequestRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[recipient] = append(b.requests[recipient], req)
}

func (b *fakeBackend) addRawMessage(rec api.MessageRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, rec)
}

func (b *fakeBackend) storedMessages() []api.MessageRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.MessageRecord, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *fakeBackend) authUser(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.tokens[token]
	return user, ok
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	user, ok := b.authUser(r)
	if !ok {
		http.Error(w, `{"detail":"Invalid token"}`, http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/keys/update":
		var req api.PublishKeysRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.keys[req.UserID] = api.PeerKeys{
			KemPublicKey: req.KemPublicKey,
			SigPublicKey: req.SigPublicKey,
		}
		b.mu.Unlock()
		writeJSON(w, map[string]string{"status": "ok"})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/keys/public/"):
		id := strings.TrimPrefix(path, "/keys/public/")
		b.mu.Lock()
		keys, found := b.keys[id]
		b.mu.Unlock()
		if !found {
			http.Error(w, `{"detail":"No keys"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, keys)

	case r.Method == http.MethodGet && path == "/contacts":
		b.mu.Lock()
		list := append([]api.ContactRecord(nil), b.contacts[user]...)
		b.mu.Unlock()
		writeJSON(w, list)

	case r.Method == http.MethodGet && path == "/contacts/pending":
		b.mu.Lock()
		list := append([]api.ContactRecord(nil), b.pending[user]...)
		b.mu.Unlock()
		writeJSON(w, list)

	case r.Method == http.MethodPost && path == "/chat-requests/send":
		var req api.SendChatRequestPayload
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.nextID++
		b.requests[req.RecipientID] = append(b.requests[req.RecipientID], api.ChatRequestRecord{
			ID:           fmt.Sprintf("req-%d", b.nextID),
			FromUserID:   user,
			FromUsername: user,
			Message:      req.Message,
			CreatedAt:    time.Now().UTC(),
		})
		b.mu.Unlock()
		writeJSON(w, map[string]string{"status": "ok"})

	case r.Method == http.MethodGet && path == "/chat-requests/incoming":
		b.mu.Lock()
		list := append([]api.ChatRequestRecord(nil), b.requests[user]...)
		b.mu.Unlock()
		writeJSON(w, list)

	case r.Method == http.MethodPost && path == "/chat-requests/respond":
		var req api.RespondChatRequestPayload
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		remaining := b.requests[user][:0]
		for _, pending := range b.requests[user] {
			if pending.ID != req.RequestID {
				remaining = append(remaining, pending)
				continue
			}
			if req.Action == "accept" {
				b.contacts[user] = append(b.contacts[user], api.ContactRecord{
					ID: pending.FromUserID, Username: pending.FromUsername,
				})
				b.contacts[pending.FromUserID] = append(b.contacts[pending.FromUserID], api.ContactRecord{
					ID: user, Username: user,
				})
			}
		}
		b.requests[user] = remaining
		b.mu.Unlock()
		writeJSON(w, map[string]string{"status": "ok"})

	case r.Method == http.MethodGet && path == "/messages":
		b.mu.Lock()
		var list []api.MessageRecord
		for _, m := range b.messages {
			if m.SenderID == user || m.RecipientID == user {
				list = append(list, m)
			}
		}
		b.mu.Unlock()
		writeJSON(w, list)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/messages/conversation/"):
		peer := strings.TrimPrefix(path, "/messages/conversation/")
		b.mu.Lock()
		var list []api.MessageRecord
		for _, m := range b.messages {
			if (m.SenderID == user && m.RecipientID == peer) ||
				(m.SenderID == peer && m.RecipientID == user) {
				list = append(list, m)
			}
		}
		b.mu.Unlock()
		writeJSON(w, list)

	case r.Method == http.MethodPost && path == "/messages/send":
		b.mu.Lock()
		b.sendCalls++
		fail := b.failSends
		b.mu.Unlock()
		if fail {
			http.Error(w, `{"detail":"Recipient rejected"}`, http.StatusBadRequest)
			return
		}
		var req api.SendMessagePayload
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.nextID++
		rec := api.MessageRecord{
			ID:              fmt.Sprintf("srv-%d", b.nextID),
			SenderID:        user,
			SenderUsername:  user,
			RecipientID:     req.RecipientID,
			EncryptedBlob:   req.EncryptedBlob,
			Signature:       req.Signature,
			SenderPublicKey: req.SenderPublicKey,
			CreatedAt:       time.Now().UTC(),
		}
		b.messages = append(b.messages, rec)
		b.mu.Unlock()
		writeJSON(w, api.SendMessageResult{ID: rec.ID})

	default:
		http.Error(w, `{"detail":"Not found"}`, http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// newTestClient builds a client wired to the fake backend with background
// delivery disabled and throwaway key storage.
func newTestClient(t *testing.T, b *fakeBackend, userID, token string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(b.URL),
		WithKeyDir(t.TempDir()),
		WithoutCache(),
		WithRealtime(false),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	client, err := New(userID, token, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
