package database

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	got := DSN("ledger", "", "db", "3306", "occasions")
	want := "ledger@tcp(db:3306)/occasions?charset=utf8mb4&parseTime=true&loc=UTC"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := DSN("ledger", "pw", "db", "3306", "occasions"); !strings.HasPrefix(got, "ledger:pw@tcp(") {
		t.Fatalf("expected password in DSN, got %q", got)
	}
}

func TestStatements(t *testing.T) {
	stmts := Statements()
	if len(stmts) != 6 {
		t.Fatalf("expected 6 statements, got %d", len(stmts))
	}
	for _, table := range []string{"accounts", "refresh_tokens", "occasions", "tickets", "withdrawals", "ledger_meta"} {
		found := false
		for _, s := range stmts {
			if strings.Contains(s, "CREATE TABLE IF NOT EXISTS "+table+" (") {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected a CREATE TABLE for %s", table)
		}
	}
}
