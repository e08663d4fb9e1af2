// SPDX-License-Identifier: MPL-2.0

package console

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const tokenSweepInterval = 5 * time.Minute

// Token is an access credential presented as the SSH password.
type Token struct {
	Value     string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IssueToken creates a token valid for the configured TTL. label shows up
// in the log when the token is used.
func (c *Console) IssueToken(label string) (*Token, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	now := c.now()
	tok := &Token{
		Value:     hex.EncodeToString(raw),
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TokenTTL),
	}

	c.tokenMu.Lock()
	c.tokens[tok.Value] = tok
	c.tokenMu.Unlock()
	return tok, nil
}

// ValidateToken returns the token if it exists and has not expired.
// Expired tokens are revoked on sight.
func (c *Console) ValidateToken(value string) (*Token, bool) {
	c.tokenMu.RLock()
	tok, ok := c.tokens[value]
	c.tokenMu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(tok.ExpiresAt) {
		c.RevokeToken(value)
		return nil, false
	}
	return tok, true
}

// RevokeToken invalidates value.
func (c *Console) RevokeToken(value string) {
	c.tokenMu.Lock()
	delete(c.tokens, value)
	c.tokenMu.Unlock()
}

func (c *Console) expireTokens(ctx context.Context) {
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			c.tokenMu.Lock()
			for value, tok := range c.tokens {
				if now.After(tok.ExpiresAt) {
					delete(c.tokens, value)
				}
			}
			c.tokenMu.Unlock()
		}
	}
}

// loadAuthorizedKeys reads the authorized_keys style file, if configured.
func (c *Console) loadAuthorizedKeys() error {
	if c.cfg.AuthorizedKeysPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cfg.AuthorizedKeysPath)
	if err != nil {
		return fmt.Errorf("read authorized keys: %w", err)
	}
	for len(bytes.TrimSpace(data)) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return fmt.Errorf("parse authorized keys %s: %w", c.cfg.AuthorizedKeysPath, err)
		}
		c.keys = append(c.keys, key)
		data = rest
	}
	c.logger.Debug("authorized keys loaded", "count", len(c.keys))
	return nil
}

func (c *Console) passwordHandler(ctx ssh.Context, password string) bool {
	tok, ok := c.ValidateToken(password)
	if !ok {
		c.logger.Warn("console login rejected", "user", ctx.User(), "remote", ctx.RemoteAddr().String())
		return false
	}
	c.logger.Debug("console login", "user", ctx.User(), "token", tok.Label)
	return true
}

func (c *Console) publicKeyHandler(ctx ssh.Context, key ssh.PublicKey) bool {
	for _, allowed := range c.keys {
		if ssh.KeysEqual(key, allowed) {
			c.logger.Debug("console login", "user", ctx.User(), "key", gossh.FingerprintSHA256(key))
			return true
		}
	}
	return false
}
