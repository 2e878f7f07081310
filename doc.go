// Package lockbox is the official Go client SDK for the LockBox
// end-to-end encrypted chat backend.
//
// The SDK manages the local identity's post-quantum key material
// (ML-KEM-768 for encryption, ML-DSA-65 for signatures), encrypts and
// decrypts message envelopes, resolves peer keys, and keeps conversation
// state reconciled across HTTP polling and the optional WebSocket push
// channel. Plaintext never leaves the client; the backend stores and
// routes ciphertext only.
//
// Basic usage:
//
//	client, err := lockbox.New("alice", token,
//	    lockbox.WithBaseURL("https://relay.example.com"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if _, err := client.GenerateKeys(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	msg, err := client.Send(ctx, "bob", "hello")
package lockbox
