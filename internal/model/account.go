package model

import "time"

// Account represents a registered identity as stored in the `accounts`
// table.  Address is the ledger identity of the account: it is the JWT
// subject and the value recorded as buyer or compared with the owner.
//
// Fields:
//  ID           – primary key identifier of the account.
//  Email        – unique, lower-cased login email.
//  PasswordHash – bcrypt hashed password.
//  Address      – unique 0x-prefixed hex address.
//  IsActive     – whether the account may log in.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type Account struct {
	ID           uint64    // accounts.id
	Email        string    // accounts.email
	PasswordHash string    // accounts.password_hash
	Address      string    // accounts.address
	IsActive     bool      // accounts.is_active
	CreatedAt    time.Time // accounts.created_at
	UpdatedAt    time.Time // accounts.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is never stored; only its SHA‑256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	AccountID uint64     // refresh_tokens.account_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
