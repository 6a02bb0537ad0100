// Package identity implements the server's users and bearer tokens: a
// bootstrap flow that mints the first admin, token mint/list/revoke, and
// bearer-token authentication producing a repo.Subject. It is the concrete
// implementation behind the authorization predicates the core consults;
// swapping it for an external identity provider only requires replacing
// the Authenticate call at the HTTP boundary.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
)

// User is one account. Admin users pass every authorization predicate.
type User struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Admin       bool   `json:"admin"`
	CreatedAt   string `json:"created_at"`
}

// Token is one bearer token record. TokenHash is the hash of the secret;
// the secret itself is returned exactly once, at mint time, and never
// stored.
type Token struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	TokenHash  string `json:"token_hash"`
	Label      string `json:"label,omitempty"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	RevokedAt  string `json:"revoked_at,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// Service owns the identity maps for one data directory: users by id,
// tokens by id, and a token-hash index for O(1) bearer lookup. A single
// RWMutex guards all three.
type Service struct {
	mu             sync.RWMutex
	dataDir        string
	users          map[string]User
	tokens         map[string]Token
	tokenHashIndex map[string]string // token hash -> token id

	// bootstrapTokenHash is the bcrypt hash of the one-time bootstrap
	// token, set from server flags. Empty disables bootstrap.
	bootstrapTokenHash []byte
}

func hashToken(secret string) string {
	return string(objectid.Of([]byte(secret)))
}

func generateTokenSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func nowTS() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Load reads users.json and tokens.json from dataDir, building the
// token-hash index. Missing files yield an empty service.
func Load(dataDir, bootstrapToken string) (*Service, error) {
	s := &Service{
		dataDir:        dataDir,
		users:          map[string]User{},
		tokens:         map[string]Token{},
		tokenHashIndex: map[string]string{},
	}
	if bootstrapToken != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(bootstrapToken), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash bootstrap token: %w", err)
		}
		s.bootstrapTokenHash = h
	}

	if b, err := readFileIfExists(filepath.Join(dataDir, "users.json")); err != nil {
		return nil, fmt.Errorf("read users.json: %w", err)
	} else if b != nil {
		var list []User
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse users.json: %w", err)
		}
		for _, u := range list {
			s.users[u.ID] = u
		}
	}

	if b, err := readFileIfExists(filepath.Join(dataDir, "tokens.json")); err != nil {
		return nil, fmt.Errorf("read tokens.json: %w", err)
	} else if b != nil {
		var list []Token
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse tokens.json: %w", err)
		}
		for _, t := range list {
			s.tokens[t.ID] = t
			s.tokenHashIndex[t.TokenHash] = t.ID
		}
	}

	return s, nil
}

// SeedDevIdentity mints a dev admin user with a caller-chosen token
// secret when the store is completely empty, so a first run without a
// bootstrap token still yields a usable server. No-op otherwise.
func (s *Service) SeedDevIdentity(handle, tokenSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 || len(s.tokens) > 0 {
		return nil
	}
	createdAt := nowTS()
	user := User{
		ID:        uuid.NewString(),
		Handle:    handle,
		Admin:     true,
		CreatedAt: createdAt,
	}
	s.users[user.ID] = user

	tokenHash := hashToken(tokenSecret)
	token := Token{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: tokenHash,
		Label:     "dev",
		CreatedAt: createdAt,
	}
	s.tokens[token.ID] = token
	s.tokenHashIndex[tokenHash] = token.ID
	return s.persistLocked()
}

// Authenticate resolves a bearer secret to a Subject. Unknown, revoked,
// and expired tokens all fail identically so a caller cannot probe which
// of the three applies.
func (s *Service) Authenticate(secret string) (repo.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokenID, ok := s.tokenHashIndex[hashToken(secret)]
	if !ok {
		return repo.Subject{}, cerr.New(cerr.Forbidden, "invalid token")
	}
	t := s.tokens[tokenID]
	if t.RevokedAt != "" {
		return repo.Subject{}, cerr.New(cerr.Forbidden, "invalid token")
	}
	if t.ExpiresAt != "" {
		if exp, err := time.Parse(time.RFC3339, t.ExpiresAt); err == nil && time.Now().After(exp) {
			return repo.Subject{}, cerr.New(cerr.Forbidden, "invalid token")
		}
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return repo.Subject{}, cerr.New(cerr.Forbidden, "invalid token")
	}
	return repo.Subject{UserID: u.ID, Handle: u.Handle, Admin: u.Admin}, nil
}

// Bootstrap performs the one-time admin creation: the presented token
// must match the configured bootstrap token, and no admin may already
// exist. Returns the new user and its minted token secret.
func (s *Service) Bootstrap(presentedToken, handle, displayName string) (User, string, error) {
	if handle == "" {
		return User{}, "", cerr.New(cerr.InvalidInput, "handle must not be empty")
	}
	if len(s.bootstrapTokenHash) == 0 {
		return User{}, "", cerr.New(cerr.Forbidden, "bootstrap disabled")
	}
	if err := bcrypt.CompareHashAndPassword(s.bootstrapTokenHash, []byte(presentedToken)); err != nil {
		return User{}, "", cerr.New(cerr.Forbidden, "invalid bootstrap token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Admin {
			return User{}, "", cerr.New(cerr.Conflict, "already bootstrapped")
		}
	}
	for _, u := range s.users {
		if u.Handle == handle {
			return User{}, "", cerr.New(cerr.Conflict, "user handle %q already exists", handle)
		}
	}

	createdAt := nowTS()
	user := User{
		ID:          uuid.NewString(),
		Handle:      handle,
		DisplayName: displayName,
		Admin:       true,
		CreatedAt:   createdAt,
	}
	s.users[user.ID] = user

	secret, err := s.mintTokenLocked(user.ID, "bootstrap", createdAt)
	if err != nil {
		delete(s.users, user.ID)
		return User{}, "", err
	}
	if err := s.persistLocked(); err != nil {
		return User{}, "", err
	}
	return user, secret, nil
}

// CreateUser registers a new non-admin user. Admin-only at the boundary.
func (s *Service) CreateUser(handle, displayName string) (User, error) {
	if handle == "" {
		return User{}, cerr.New(cerr.InvalidInput, "handle must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Handle == handle {
			return User{}, cerr.New(cerr.Conflict, "user handle %q already exists", handle)
		}
	}
	user := User{
		ID:          uuid.NewString(),
		Handle:      handle,
		DisplayName: displayName,
		CreatedAt:   nowTS(),
	}
	s.users[user.ID] = user
	if err := s.persistLocked(); err != nil {
		delete(s.users, user.ID)
		return User{}, err
	}
	return user, nil
}

// ListUsers returns every user sorted by handle.
func (s *Service) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// UserByHandle looks a user up by handle.
func (s *Service) UserByHandle(handle string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Handle == handle {
			return u, true
		}
	}
	return User{}, false
}

// HandleToIDMap returns the handle → user-id mapping used to backfill
// repo ACL user-id mirrors on load.
func (s *Service) HandleToIDMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.users))
	for _, u := range s.users {
		out[u.Handle] = u.ID
	}
	return out
}

// MintToken creates a bearer token for userID and returns the token
// record plus the secret (shown once).
func (s *Service) MintToken(userID, label string) (Token, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return Token{}, "", cerr.New(cerr.NotFound, "user %s not found", userID)
	}
	secret, err := s.mintTokenLocked(userID, label, nowTS())
	if err != nil {
		return Token{}, "", err
	}
	if err := s.persistLocked(); err != nil {
		return Token{}, "", err
	}
	t := s.tokens[s.tokenHashIndex[hashToken(secret)]]
	return t, secret, nil
}

func (s *Service) mintTokenLocked(userID, label, createdAt string) (string, error) {
	secret, err := generateTokenSecret()
	if err != nil {
		return "", cerr.New(cerr.Io, "%v", err)
	}
	tokenHash := hashToken(secret)
	token := Token{
		ID:        string(objectid.Of([]byte(userID + "\n" + tokenHash + "\n" + createdAt))),
		UserID:    userID,
		TokenHash: tokenHash,
		Label:     label,
		CreatedAt: createdAt,
	}
	s.tokens[token.ID] = token
	s.tokenHashIndex[tokenHash] = token.ID
	return secret, nil
}

// ListTokens returns the tokens owned by userID, sorted by created_at.
// Admins may pass "" to list every token.
func (s *Service) ListTokens(userID string) []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// RevokeToken marks tokenID revoked. Owners may revoke their own tokens;
// admins may revoke any token. Anyone else gets Forbidden.
func (s *Service) RevokeToken(tokenID string, subject repo.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return cerr.New(cerr.NotFound, "token %s not found", tokenID)
	}
	if !subject.Admin && t.UserID != subject.UserID {
		return cerr.New(cerr.Forbidden, "cannot revoke another user's token")
	}
	if t.RevokedAt == "" {
		t.RevokedAt = nowTS()
		s.tokens[tokenID] = t
		delete(s.tokenHashIndex, t.TokenHash)
	}
	return s.persistLocked()
}

// persistLocked writes users.json (sorted by handle) and tokens.json
// (sorted by created_at) via temp-file-then-rename. Callers hold s.mu.
func (s *Service) persistLocked() error {
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Handle < users[j].Handle })

	tokens := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CreatedAt < tokens[j].CreatedAt })

	if err := writeAtomic(filepath.Join(s.dataDir, "users.json"), users); err != nil {
		return cerr.New(cerr.Io, "write users.json: %v", err)
	}
	if err := writeAtomic(filepath.Join(s.dataDir, "tokens.json"), tokens); err != nil {
		return cerr.New(cerr.Io, "write tokens.json: %v", err)
	}
	return nil
}

func writeAtomic(target string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%s.tmp", target, uuid.NewString())
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readFileIfExists(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}
