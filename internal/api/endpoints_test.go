package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEndpoints_Routes(t *testing.T) {
	type seen struct {
		method string
		path   string
	}
	var got seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = seen{method: r.Method, path: r.URL.Path}
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want seen
	}{
		{
			name: "PublishKeys",
			call: func() error {
				return client.PublishKeys(ctx, PublishKeysRequest{UserID: "alice"})
			},
			want: seen{"POST", "/keys/update"},
		},
		{
			name: "GetPublicKeys",
			call: func() error {
				_, err := client.GetPublicKeys(ctx, "bob")
				return err
			},
			want: seen{"GET", "/keys/public/bob"},
		},
		{
			name: "GetContacts",
			call: func() error {
				_, err := client.GetContacts(ctx)
				return err
			},
			want: seen{"GET", "/contacts"},
		},
		{
			name: "GetPendingContacts",
			call: func() error {
				_, err := client.GetPendingContacts(ctx)
				return err
			},
			want: seen{"GET", "/contacts/pending"},
		},
		{
			name: "SendChatRequest",
			call: func() error {
				return client.SendChatRequest(ctx, SendChatRequestPayload{RecipientID: "bob"})
			},
			want: seen{"POST", "/chat-requests/send"},
		},
		{
			name: "GetIncomingRequests",
			call: func() error {
				_, err := client.GetIncomingRequests(ctx)
				return err
			},
			want: seen{"GET", "/chat-requests/incoming"},
		},
		{
			name: "RespondChatRequest",
			call: func() error {
				return client.RespondChatRequest(ctx, RespondChatRequestPayload{RequestID: "r1", Action: "accept"})
			},
			want: seen{"POST", "/chat-requests/respond"},
		},
		{
			name: "GetMessages",
			call: func() error {
				_, err := client.GetMessages(ctx)
				return err
			},
			want: seen{"GET", "/messages"},
		},
		{
			name: "GetConversation",
			call: func() error {
				_, err := client.GetConversation(ctx, "bob")
				return err
			},
			want: seen{"GET", "/messages/conversation/bob"},
		},
		{
			name: "SendMessage",
			call: func() error {
				_, err := client.SendMessage(ctx, SendMessagePayload{RecipientID: "bob"})
				return err
			},
			want: seen{"POST", "/messages/send"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if got != tt.want {
				t.Errorf("request = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetPublicKeys_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PeerKeys{
			KemPublicKey: "a2V5",
			SigPublicKey: "c2ln",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil)
	keys, err := client.GetPublicKeys(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetPublicKeys() error = %v", err)
	}
	if keys.KemPublicKey != "a2V5" || keys.SigPublicKey != "c2ln" {
		t.Errorf("GetPublicKeys() = %+v", keys)
	}
}
