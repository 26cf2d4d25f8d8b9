package authkey

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func authkeyColumns() []string {
	return []string{"authkey", "user_id", "state", "created", "last_access", "closed"}
}

func TestPGGetOrCreateInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("insert into geoserver_user_authkey").
		WithArgs("key-1", "u1", now).
		WillReturnRows(sqlmock.NewRows(authkeyColumns()).
			AddRow("key-1", "u1", "Active", now, nil, nil))

	store := NewPGStore(db)
	rec, created, err := store.GetOrCreate(context.Background(), Authkey{Key: "key-1", UserID: "u1", State: StateActive, Created: now})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected insert path")
	}
	if rec.Key != "key-1" || rec.State != StateActive {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGGetOrCreateReturnsExistingOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)
	mock.ExpectQuery("insert into geoserver_user_authkey").
		WithArgs("key-2", "u1", now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select authkey, user_id, state, created, last_access, closed").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(authkeyColumns()).
			AddRow("key-1", "u1", "Active", earlier, nil, nil))

	store := NewPGStore(db)
	rec, created, err := store.GetOrCreate(context.Background(), Authkey{Key: "key-2", UserID: "u1", State: StateActive, Created: now})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Fatalf("expected existing-key path")
	}
	if rec.Key != "key-1" {
		t.Fatalf("expected existing key, got %s", rec.Key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateRetiresAndInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update geoserver_user_authkey").
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into geoserver_user_authkey").
		WithArgs("key-2", "u1", now).
		WillReturnRows(sqlmock.NewRows(authkeyColumns()).
			AddRow("key-2", "u1", "Active", now, nil, nil))
	mock.ExpectCommit()

	store := NewPGStore(db)
	rec, err := store.Rotate(context.Background(), "u1", Authkey{Key: "key-2", UserID: "u1", State: StateActive, Created: now}, now)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rec.Key != "key-2" {
		t.Fatalf("unexpected key: %s", rec.Key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGTouchLastAccessMissingKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("update geoserver_user_authkey").
		WithArgs("nope", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.TouchLastAccess(context.Background(), "nope", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
