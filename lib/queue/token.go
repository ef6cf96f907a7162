// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// TokenPrefix starts every bootstrap token. It makes tokens
// recognizable in logs-by-accident (so secret scanners can match them)
// and lets the redemption endpoint cheaply reject line noise.
const TokenPrefix = "mbt_"

// PublicEnvPrefix is the reserved namespace for non-secret
// environment entries delivered alongside bootstrap secrets. Only
// keys carrying this prefix are accepted in a token's public env, so
// a compromised caller cannot smuggle a secret-shaped name (say,
// OPENAI_API_KEY) through the public channel and shadow or spoof a
// real secret.
const PublicEnvPrefix = "MOLT_PUB_"

// tokenDomainKey is the BLAKE3 keyed-hash domain for bootstrap token
// digests. Fixed constant: changing it invalidates every stored
// token hash. The byte values are the ASCII encoding of the domain
// name, zero-padded to 32 bytes: readable in hex dumps without
// sacrificing any cryptographic property (BLAKE3 keyed mode treats
// the key as an opaque 32-byte value).
var tokenDomainKey = [32]byte{
	'm', 'o', 'l', 't', 'l', 'e', 't', 's', '.', 'c', 'a', 't', 't', 'l', 'e', '.',
	't', 'o', 'k', 'e', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// newToken mints a fresh bootstrap token: the "mbt_" prefix followed
// by 32 hex characters (128 random bits).
func newToken() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("queue: reading random bytes: " + err.Error())
	}
	return TokenPrefix + hex.EncodeToString(raw[:])
}

// hashToken computes the domain-keyed BLAKE3 digest of a bearer
// token. Only this digest is ever persisted; the token itself exists
// in memory at mint time and in the instance redeeming it, nowhere
// else. Keyed hashing keeps a stolen database useless for forging
// redemptions in some *other* deployment that hashed the same token
// bytes in a different domain.
func hashToken(token string) []byte {
	hasher, err := blake3.NewKeyed(tokenDomainKey[:])
	if err != nil {
		panic("queue: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(token))
	return hasher.Sum(nil)
}

// TokenRequest describes a bootstrap token to mint.
type TokenRequest struct {
	// JobID is the spawn job the token belongs to. Required.
	JobID string

	// Requester is carried into the payload for attribution. Required.
	Requester string

	// CattleName is the instance the token is destined for. Required.
	CattleName string

	// EnvKeys names the secret environment variables the redeeming
	// instance receives. The values are resolved from the daemon's own
	// environment at redemption time, never stored.
	EnvKeys []string

	// PublicEnv carries non-secret values verbatim. Every key must
	// live under PublicEnvPrefix.
	PublicEnv map[string]string

	// TTL bounds the redemption window. Zero means the store default.
	TTL time.Duration
}

// IssuedToken is the mint result. Token is the only copy of the
// plaintext; it cannot be recovered from the store afterward.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenPayload is what a successful redemption yields.
type TokenPayload struct {
	JobID      string            `json:"jobId"`
	Requester  string            `json:"requester"`
	CattleName string            `json:"cattleName"`
	EnvKeys    []string          `json:"envKeys"`
	PublicEnv  map[string]string `json:"publicEnv,omitempty"`
}

// CreateCattleBootstrapToken mints a single-use token and stores its
// keyed digest plus the payload it unlocks. The plaintext token is
// returned once and never persisted.
func (s *Store) CreateCattleBootstrapToken(ctx context.Context, req TokenRequest) (IssuedToken, error) {
	if req.JobID == "" {
		return IssuedToken{}, fmt.Errorf("%w: jobID is required", ErrValidation)
	}
	if req.Requester == "" {
		return IssuedToken{}, fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if req.CattleName == "" {
		return IssuedToken{}, fmt.Errorf("%w: cattleName is required", ErrValidation)
	}
	envKeys, err := cleanEnvKeys(req.EnvKeys)
	if err != nil {
		return IssuedToken{}, err
	}
	for key := range req.PublicEnv {
		if !ValidEnvKey(key) {
			return IssuedToken{}, fmt.Errorf("%w: invalid public env key %q", ErrValidation, key)
		}
		if !strings.HasPrefix(key, PublicEnvPrefix) {
			return IssuedToken{}, fmt.Errorf("%w: public env key %q must start with %s", ErrValidation, key, PublicEnvPrefix)
		}
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTokenTTL
	}

	envKeysJSON, err := json.Marshal(envKeys)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("queue store: marshal env keys: %w", err)
	}
	var publicEnvJSON any
	if len(req.PublicEnv) > 0 {
		data, err := json.Marshal(req.PublicEnv)
		if err != nil {
			return IssuedToken{}, fmt.Errorf("queue store: marshal public env: %w", err)
		}
		publicEnvJSON = string(data)
	}

	token := newToken()
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("queue store: create token: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO cattle_tokens
			(token_hash, job_id, requester, cattle_name, env_keys,
			 public_env, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				hashToken(token), req.JobID, req.Requester, req.CattleName,
				string(envKeysJSON), publicEnvJSON, millis(now), millis(expiresAt),
			},
		})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("queue store: insert token: %w", err)
	}

	s.logger.Info("minted bootstrap token",
		"job_id", req.JobID,
		"cattle_name", req.CattleName,
		"env_keys", len(envKeys),
		"expires_at", expiresAt)

	return IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// ConsumeCattleBootstrapToken redeems a token, atomically marking it
// used. The guard and the mark are one statement, so two racing
// redemptions resolve to exactly one winner. Returns nil for a token
// that is unknown, expired, or already used; the three cases are
// deliberately indistinguishable to the caller.
func (s *Store) ConsumeCattleBootstrapToken(ctx context.Context, token string) (*TokenPayload, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: consume token: %w", err)
	}
	defer s.pool.Put(conn)

	now := millis(s.clock.Now())
	var payload *TokenPayload
	err = sqlitex.Execute(conn, `
		UPDATE cattle_tokens SET used_at = ?
		WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?
		RETURNING job_id, requester, cattle_name, env_keys, public_env`,
		&sqlitex.ExecOptions{
			Args: []any{now, hashToken(token), now},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload = &TokenPayload{
					JobID:      stmt.ColumnText(0),
					Requester:  stmt.ColumnText(1),
					CattleName: stmt.ColumnText(2),
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &payload.EnvKeys); err != nil {
					return fmt.Errorf("queue store: decode env keys: %w", err)
				}
				if stmt.ColumnType(4) != sqlite.TypeNull {
					if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &payload.PublicEnv); err != nil {
						return fmt.Errorf("queue store: decode public env: %w", err)
					}
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: consume token: %w", err)
	}

	if payload != nil {
		s.logger.Info("redeemed bootstrap token",
			"job_id", payload.JobID,
			"cattle_name", payload.CattleName)
	}
	return payload, nil
}

// PruneCattleBootstrapTokens deletes used and expired tokens. Returns
// the number deleted. Redeemed rows keep no secret material, but
// there is no reason to let them accumulate either.
func (s *Store) PruneCattleBootstrapTokens(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue store: prune tokens: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM cattle_tokens WHERE used_at IS NOT NULL OR expires_at <= ?`,
		&sqlitex.ExecOptions{Args: []any{millis(s.clock.Now())}})
	if err != nil {
		return 0, fmt.Errorf("queue store: prune tokens: %w", err)
	}
	return conn.Changes(), nil
}

// cleanEnvKeys trims, validates, and order-preservingly deduplicates
// the secret env key list.
func cleanEnvKeys(keys []string) ([]string, error) {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if !ValidEnvKey(key) {
			return nil, fmt.Errorf("%w: invalid environment variable name %q", ErrValidation, key)
		}
		if !slices.Contains(cleaned, key) {
			cleaned = append(cleaned, key)
		}
	}
	return cleaned, nil
}
