package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/model"
	"github.com/iliyamo/occasion-ledger/internal/utils"
)

// AccountRepo persists registered accounts.
type AccountRepo struct {
	DB     *sql.DB
	logger *logrus.Logger
}

func NewAccountRepo(db *sql.DB, logger *logrus.Logger) *AccountRepo {
	return &AccountRepo{DB: db, logger: logger}
}

// maxAddressAttempts bounds retries on the (unlikely) address collision.
const maxAddressAttempts = 3

// Create hashes the password, assigns a fresh address and inserts the
// account.  It returns the stored row.
func (r *AccountRepo) Create(ctx context.Context, email, password string, cost int) (model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.Account{}, err
	}
	for attempt := 0; attempt < maxAddressAttempts; attempt++ {
		addr, err := utils.NewAddress()
		if err != nil {
			return model.Account{}, err
		}
		res, err := r.DB.ExecContext(ctx,
			"INSERT INTO accounts (email, password_hash, address) VALUES (?,?,?)",
			email, hash, addr)
		if err != nil {
			if isDuplicate(err) {
				if strings.Contains(err.Error(), "uq_accounts_address") {
					continue
				}
				return model.Account{}, ErrEmailExists
			}
			r.logger.WithContext(ctx).WithError(err).Error("insert account")
			return model.Account{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.Account{}, err
		}
		return r.GetByID(ctx, uint64(id))
	}
	return model.Account{}, ErrConflict
}

const accountColumns = "id,email,password_hash,address,is_active,created_at,updated_at"

func scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Address, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// GetByEmail fetches an account by normalized email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email=? LIMIT 1", email))
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1", id))
}

// GetByAddress fetches an account by its ledger address.
func (r *AccountRepo) GetByAddress(ctx context.Context, addr string) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE address=? LIMIT 1", strings.ToLower(addr)))
}

// ErrPasswordRequired is returned when an account must be created without
// a password to hash.
var ErrPasswordRequired = errors.New("password required")

// EnsureAccount returns the account holding address, creating it with
// email and password when none exists.  It reports whether it created the
// row.  An email already bound to another address yields ErrEmailExists.
func (r *AccountRepo) EnsureAccount(ctx context.Context, email, password, address string, cost int) (model.Account, bool, error) {
	address = strings.ToLower(address)
	a, err := r.GetByAddress(ctx, address)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return a, false, err
	}
	if password == "" {
		return a, false, ErrPasswordRequired
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return a, false, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO accounts (email, password_hash, address) VALUES (?,?,?)",
		email, hash, address)
	if err != nil {
		if isDuplicate(err) {
			if strings.Contains(err.Error(), "uq_accounts_address") {
				a, err = r.GetByAddress(ctx, address)
				return a, false, err
			}
			return a, false, ErrEmailExists
		}
		r.logger.WithContext(ctx).WithError(err).Error("insert account")
		return a, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return a, false, err
	}
	a, err = r.GetByID(ctx, uint64(id))
	return a, err == nil, err
}
