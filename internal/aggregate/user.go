package aggregate

import (
	"encoding/json"
	"fmt"
)

const (
	EventUserRegistered = "UserRegistered"
	EventPasswordChanged = "PasswordChanged"
	EventAPIKeyGenerated = "ApiKeyGenerated"
	EventAPIKeyRevoked   = "ApiKeyRevoked"
)

// User is the write-side aggregate for a single account: its credentials,
// its role, its tenant membership, and the set of API keys issued to it.
type User struct {
	id       string
	version  uint64
	username string
	email    string
	// passwordHash is carried in the event payload (unlike the reference
	// implementation, which leaves it implicit) because the event store is
	// the only durable record an aggregate replay has to work from.
	passwordHash string
	role         Role
	tenantID     *string
	apiKeys      map[string]apiKeyState
}

type apiKeyState struct {
	hash    string
	name    string
	revoked bool
}

// NewUser returns a zero-value User ready to handle a RegisterUser command.
func NewUser() *User {
	return &User{apiKeys: make(map[string]apiKeyState)}
}

func (u *User) AggregateID() string { return u.id }
func (u *User) Version() uint64     { return u.version }
func (u *User) Role() Role          { return u.role }
func (u *User) TenantID() *string   { return u.tenantID }
func (u *User) PasswordHash() string { return u.passwordHash }

// APIKeyActive reports whether keyID exists and has not been revoked.
func (u *User) APIKeyActive(keyID string) bool {
	key, ok := u.apiKeys[keyID]
	return ok && !key.revoked
}

// --- Commands ---

type RegisterUserCommand struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	InitialRole  Role
	TenantID     *string
}

type ChangePasswordCommand struct {
	UserID          string
	NewPasswordHash string
}

type GenerateAPIKeyCommand struct {
	UserID     string
	KeyID      string
	KeyName    string
	APIKeyHash string
}

type RevokeAPIKeyCommand struct {
	UserID string
	KeyID  string
}

// --- Event payloads ---

type UserRegisteredPayload struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
	TenantID     *string `json:"tenant_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type PasswordChangedPayload struct {
	UserID          string `json:"user_id"`
	NewPasswordHash string `json:"new_password_hash"`
	Timestamp       string `json:"timestamp"`
}

type APIKeyGeneratedPayload struct {
	UserID     string `json:"user_id"`
	KeyID      string `json:"key_id"`
	KeyName    string `json:"key_name"`
	APIKeyHash string `json:"api_key_hash"`
	Timestamp  string `json:"timestamp"`
}

type APIKeyRevokedPayload struct {
	UserID    string `json:"user_id"`
	KeyID     string `json:"key_id"`
	Timestamp string `json:"timestamp"`
}

// Apply folds a single stored event into aggregate state. It must never
// reject an event that was previously accepted by Handle* and persisted.
func (u *User) Apply(event Event) error {
	switch event.Type {
	case EventUserRegistered:
		var p UserRegisteredPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.Type, err)
		}
		u.id = p.UserID
		u.username = p.Username
		u.email = p.Email
		u.passwordHash = p.PasswordHash
		u.role = p.Role
		u.tenantID = p.TenantID

	case EventPasswordChanged:
		var p PasswordChangedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.Type, err)
		}
		u.passwordHash = p.NewPasswordHash

	case EventAPIKeyGenerated:
		var p APIKeyGeneratedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.Type, err)
		}
		if u.apiKeys == nil {
			u.apiKeys = make(map[string]apiKeyState)
		}
		u.apiKeys[p.KeyID] = apiKeyState{hash: p.APIKeyHash, name: p.KeyName}

	case EventAPIKeyRevoked:
		var p APIKeyRevokedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.Type, err)
		}
		if key, ok := u.apiKeys[p.KeyID]; ok {
			key.revoked = true
			u.apiKeys[p.KeyID] = key
		}

	default:
		return fmt.Errorf("aggregate: unknown user event type %q", event.Type)
	}

	u.version++
	return nil
}

// HandleRegister validates and registers a brand-new user. Call only on a
// freshly constructed User (version 0).
func (u *User) HandleRegister(cmd RegisterUserCommand) ([]Event, error) {
	if u.version > 0 {
		return nil, fmt.Errorf("%w: user %s", ErrAlreadyExists, u.id)
	}
	if cmd.UserID == "" || cmd.Username == "" || cmd.Email == "" || cmd.PasswordHash == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if !cmd.InitialRole.Valid() {
		return nil, fmt.Errorf("%w: invalid role value", ErrInvalidRole)
	}
	if cmd.InitialRole != RolePlatformAdmin && cmd.TenantID == nil {
		return nil, ErrTenantIDRequired
	}
	if cmd.InitialRole == RolePlatformAdmin && cmd.TenantID != nil {
		return nil, fmt.Errorf("%w: platform admin cannot belong to a tenant", ErrInvalidRole)
	}

	payload, err := json.Marshal(UserRegisteredPayload{
		UserID:       cmd.UserID,
		Username:     cmd.Username,
		Email:        cmd.Email,
		PasswordHash: cmd.PasswordHash,
		Role:         cmd.InitialRole,
		TenantID:     cmd.TenantID,
		Timestamp:    nowRFC3339(),
	})
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EventUserRegistered, Payload: payload}}, nil
}

// HandleChangePassword requires the aggregate to already be loaded (version > 0).
func (u *User) HandleChangePassword(cmd ChangePasswordCommand) ([]Event, error) {
	if cmd.UserID != u.id {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, cmd.UserID)
	}
	if cmd.NewPasswordHash == "" {
		return nil, fmt.Errorf("%w: new password hash cannot be empty", ErrInvalidInput)
	}

	payload, err := json.Marshal(PasswordChangedPayload{
		UserID:          cmd.UserID,
		NewPasswordHash: cmd.NewPasswordHash,
		Timestamp:       nowRFC3339(),
	})
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EventPasswordChanged, Payload: payload}}, nil
}

// HandleGenerateAPIKey requires the aggregate to already be loaded. The
// plaintext key, its id, and its hash are generated by the command handler
// (internal/command), not here — the aggregate only ever records the hash.
// That hash is the unsalted SHA-256 digest from secrets.HashAPIKey, not an
// Argon2id hash.
func (u *User) HandleGenerateAPIKey(cmd GenerateAPIKeyCommand) ([]Event, error) {
	if cmd.UserID != u.id {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, cmd.UserID)
	}
	if cmd.KeyID == "" || cmd.APIKeyHash == "" {
		return nil, fmt.Errorf("%w: missing key id or hash", ErrInvalidInput)
	}

	payload, err := json.Marshal(APIKeyGeneratedPayload{
		UserID:     cmd.UserID,
		KeyID:      cmd.KeyID,
		KeyName:    cmd.KeyName,
		APIKeyHash: cmd.APIKeyHash,
		Timestamp:  nowRFC3339(),
	})
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EventAPIKeyGenerated, Payload: payload}}, nil
}

// HandleRevokeAPIKey requires the aggregate to already be loaded.
func (u *User) HandleRevokeAPIKey(cmd RevokeAPIKeyCommand) ([]Event, error) {
	if cmd.UserID != u.id {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, cmd.UserID)
	}
	key, ok := u.apiKeys[cmd.KeyID]
	if !ok || key.revoked {
		return nil, fmt.Errorf("%w: key %s", ErrAPIKeyNotFound, cmd.KeyID)
	}

	payload, err := json.Marshal(APIKeyRevokedPayload{
		UserID:    cmd.UserID,
		KeyID:     cmd.KeyID,
		Timestamp: nowRFC3339(),
	})
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EventAPIKeyRevoked, Payload: payload}}, nil
}

// APIKeyCount reports the number of non-revoked keys currently issued to
// this user — used by the bootstrap exception for the first key.
func (u *User) APIKeyCount() int {
	count := 0
	for _, key := range u.apiKeys {
		if !key.revoked {
			count++
		}
	}
	return count
}
