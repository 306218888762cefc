package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_ParseSignInMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    string
		wantErr bool
	}{
		{
			name:    "well-formed message",
			message: buildSignInMessage("abc-123"),
			want:    "abc-123",
		},
		{
			name:    "trailing whitespace is trimmed",
			message: "Sign in.\n\nNonce: abc-123\n",
			want:    "abc-123",
		},
		{
			name:    "missing nonce marker",
			message: "Sign this message.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSignInMessage(tt.message)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuth_VerifyWalletSignature(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := base58.Encode(pub)
	message := buildSignInMessage("nonce-1")
	sig := ed25519.Sign(priv, []byte(message))

	t.Run("accepts standard base64", func(t *testing.T) {
		t.Parallel()
		valid, err := verifyWalletSignature(address, message, base64.StdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("accepts url-safe base64", func(t *testing.T) {
		t.Parallel()
		valid, err := verifyWalletSignature(address, message, base64.URLEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("accepts unpadded base64", func(t *testing.T) {
		t.Parallel()
		valid, err := verifyWalletSignature(address, message, base64.RawStdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("rejects a tampered message", func(t *testing.T) {
		t.Parallel()
		valid, err := verifyWalletSignature(address, message+"!", base64.StdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("rejects a key of the wrong size", func(t *testing.T) {
		t.Parallel()
		_, err := verifyWalletSignature(base58.Encode([]byte{1, 2, 3}), message, base64.StdEncoding.EncodeToString(sig))
		require.Error(t, err)
	})

	t.Run("rejects garbage signature encoding", func(t *testing.T) {
		t.Parallel()
		_, err := verifyWalletSignature(address, message, "!!not-base64!!")
		require.Error(t, err)
	})
}

func TestAuth_NonceStore(t *testing.T) {
	t.Parallel()

	t.Run("a nonce is valid exactly once", func(t *testing.T) {
		t.Parallel()

		store := newNonceStore()
		nonce := store.issue()
		assert.True(t, store.consume(nonce))
		assert.False(t, store.consume(nonce))
	})

	t.Run("unknown nonce is rejected", func(t *testing.T) {
		t.Parallel()

		store := newNonceStore()
		assert.False(t, store.consume("never-issued"))
	})

	t.Run("expired nonce is rejected", func(t *testing.T) {
		t.Parallel()

		store := newNonceStore()
		nonce := store.issue()
		store.mu.Lock()
		store.nonces[nonce] = time.Now().Add(-time.Second)
		store.mu.Unlock()
		assert.False(t, store.consume(nonce))
	})
}
