package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const nonceTTL = 5 * time.Minute

// nonceStore issues short-lived sign-in nonces. State is in-memory; a
// restart just asks wallets for a fresh nonce.
type nonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

func newNonceStore() *nonceStore {
	return &nonceStore{nonces: make(map[string]time.Time)}
}

func (n *nonceStore) issue() string {
	nonce := uuid.NewString()
	n.mu.Lock()
	n.nonces[nonce] = time.Now().Add(nonceTTL)

	// Opportunistic sweep so abandoned nonces don't pile up.
	now := time.Now()
	for k, exp := range n.nonces {
		if now.After(exp) {
			delete(n.nonces, k)
		}
	}
	n.mu.Unlock()
	return nonce
}

// consume takes the nonce out of circulation; each nonce authorizes at most
// one mutation.
func (n *nonceStore) consume(nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	expiry, ok := n.nonces[nonce]
	if !ok {
		return false
	}
	delete(n.nonces, nonce)
	return time.Now().Before(expiry)
}

// buildSignInMessage is the text a wallet signs to prove ownership.
func buildSignInMessage(nonce string) string {
	return fmt.Sprintf("Sign this message to authenticate with Savelo.\n\nNonce: %s", nonce)
}

// parseSignInMessage extracts the nonce from a signed message.
func parseSignInMessage(message string) (string, error) {
	_, after, found := strings.Cut(message, "Nonce: ")
	if !found {
		return "", fmt.Errorf("invalid message format")
	}
	return strings.TrimSpace(after), nil
}

// verifyWalletSignature checks an ed25519 signature over message from the
// base58-encoded public key. Wallet adapters differ on base64 flavors, so all
// three common encodings of the signature are accepted.
func verifyWalletSignature(publicKeyBase58, message, signatureBase64 string) (bool, error) {
	publicKeyBytes, err := base58.Decode(publicKeyBase58)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		signatureBytes, err = base64.URLEncoding.DecodeString(signatureBase64)
		if err != nil {
			signatureBytes, err = base64.RawStdEncoding.DecodeString(signatureBase64)
			if err != nil {
				return false, fmt.Errorf("failed to decode signature: %w", err)
			}
		}
	}
	if len(signatureBytes) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d", ed25519.SignatureSize, len(signatureBytes))
	}

	return ed25519.Verify(ed25519.PublicKey(publicKeyBytes), []byte(message), signatureBytes), nil
}

// authorizeWallet proves the caller controls the wallet: the signed message
// must carry a live nonce and the signature must verify against the wallet's
// public key.
func (s *Server) authorizeWallet(wallet, message, signature string) error {
	if wallet == "" || message == "" || signature == "" {
		return fmt.Errorf("wallet, message and signature are required")
	}
	nonce, err := parseSignInMessage(message)
	if err != nil {
		return err
	}
	if !s.nonces.consume(nonce) {
		return fmt.Errorf("unknown or expired nonce")
	}
	valid, err := verifyWalletSignature(wallet, message, signature)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("signature does not match wallet")
	}
	return nil
}
