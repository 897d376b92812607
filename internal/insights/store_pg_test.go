package insights

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var recordColumns = []string{"id", "user_id", "category", "name", "score", "created_at", "updated_at"}

func TestPGStoreMergeRunsInAdvisoryLockedTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("insights:merge:u1:strength").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM user_insights").
		WithArgs("u1", "strength").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("a", "u1", "strength", "Algebra", 60.0, created, created).
			AddRow("b", "u1", "strength", " algebra ", 75.0, created.Add(time.Hour), created.Add(time.Hour)))
	mock.ExpectExec("DELETE FROM user_insights").
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`lower\(btrim\(name\)\) = \$3`).
		WithArgs("u1", "strength", "algebra").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("b", "u1", "strength", " algebra ", 75.0, created.Add(time.Hour), created.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO user_insights").
		WithArgs("b", "u1", "strength", "Algebra", 80.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := NewMergeEngine(&PGStore{DB: db}, nil)
	if err := e.Merge(context.Background(), "u1", CategoryStrength, map[string]float64{"Algebra": 80}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(`lower\(btrim\(name\)\) = \$3`).
		WithArgs("u1", "weakness", "fractions").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err = (&PGStore{DB: db}).Get(context.Background(), "u1", CategoryWeakness, "fractions")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreMergeInsertsWhenLookupMisses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("insights:merge:u1:weakness").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM user_insights").
		WithArgs("u1", "weakness").
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectQuery(`lower\(btrim\(name\)\) = \$3`).
		WithArgs("u1", "weakness", "fractions").
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectExec("INSERT INTO user_insights").
		WithArgs(sqlmock.AnyArg(), "u1", "weakness", "Fractions", 35.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := NewMergeEngine(&PGStore{DB: db}, nil)
	if err := e.Merge(context.Background(), "u1", CategoryWeakness, map[string]float64{" Fractions ": 35}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
