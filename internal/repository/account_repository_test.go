package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/iliyamo/occasion-ledger/internal/utils"
)

func newMockAccountRepo(t *testing.T) (*AccountRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("expected sqlmock, got error %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := test.NewNullLogger()
	return NewAccountRepo(db, logger), mock
}

var accountCols = []string{"id", "email", "password_hash", "address", "is_active", "created_at", "updated_at"}

func TestAccountRepo_EnsureAccount(t *testing.T) {
	const owner = "0x1111111111111111111111111111111111111111"
	byAddress := sqlText("FROM accounts WHERE address=?")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("existing owner account", func(t *testing.T) {
		r, mock := newMockAccountRepo(t)
		mock.ExpectQuery(byAddress).WithArgs(owner).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "owner@example.com", "hash", owner, true, now, now))
		a, created, err := r.EnsureAccount(context.Background(), "owner@example.com", "", owner, 4)
		if err != nil || created || a.ID != 3 {
			t.Fatalf("expected existing account 3, got %+v created=%v err=%v", a, created, err)
		}
		expectationsMet(t, mock)
	})

	t.Run("created at the owner address", func(t *testing.T) {
		r, mock := newMockAccountRepo(t)
		mock.ExpectQuery(byAddress).WithArgs(owner).WillReturnRows(sqlmock.NewRows(accountCols))
		mock.ExpectExec(sqlText("INSERT INTO accounts (email, password_hash, address)")).
			WithArgs("owner@example.com", sqlmock.AnyArg(), owner).
			WillReturnResult(sqlmock.NewResult(5, 1))
		mock.ExpectQuery(sqlText("FROM accounts WHERE id=?")).WithArgs(5).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(5, "owner@example.com", "hash", owner, true, now, now))

		a, created, err := r.EnsureAccount(context.Background(), " Owner@Example.com ", "s3cret-pass", owner, 4)
		if err != nil || !created || a.Address != owner {
			t.Fatalf("expected new owner account, got %+v created=%v err=%v", a, created, err)
		}
		expectationsMet(t, mock)
	})

	t.Run("missing password", func(t *testing.T) {
		r, mock := newMockAccountRepo(t)
		mock.ExpectQuery(byAddress).WithArgs(owner).WillReturnRows(sqlmock.NewRows(accountCols))
		if _, _, err := r.EnsureAccount(context.Background(), "owner@example.com", "", owner, 4); !errors.Is(err, ErrPasswordRequired) {
			t.Fatalf("expected ErrPasswordRequired, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("email bound to another address", func(t *testing.T) {
		r, mock := newMockAccountRepo(t)
		mock.ExpectQuery(byAddress).WithArgs(owner).WillReturnRows(sqlmock.NewRows(accountCols))
		mock.ExpectExec(sqlText("INSERT INTO accounts")).WillReturnError(&mysql.MySQLError{
			Number:  mysqlDuplicateEntry,
			Message: "Duplicate entry 'owner@example.com' for key 'uq_accounts_email'",
		})
		if _, _, err := r.EnsureAccount(context.Background(), "owner@example.com", "s3cret-pass", owner, 4); !errors.Is(err, ErrEmailExists) {
			t.Fatalf("expected ErrEmailExists, got %v", err)
		}
		expectationsMet(t, mock)
	})
}

func TestAccountRepo_CreateHashesPassword(t *testing.T) {
	r, mock := newMockAccountRepo(t)
	var stored string
	mock.ExpectExec(sqlText("INSERT INTO accounts")).
		WithArgs("buyer@example.com", hashArg{plain: "pa55word", out: &stored}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery(sqlText("FROM accounts WHERE id=?")).WithArgs(9).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(9, "buyer@example.com", "hash", "0xabc", true, time.Now(), time.Now()))

	if _, err := r.Create(context.Background(), "buyer@example.com", "pa55word", 4); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored == "" {
		t.Fatalf("expected a bcrypt hash to be written")
	}
	expectationsMet(t, mock)
}

// hashArg matches a bcrypt hash of plain and keeps it.
type hashArg struct {
	plain string
	out   *string
}

func (h hashArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok || !utils.VerifyPassword(s, h.plain) {
		return false
	}
	*h.out = s
	return true
}
