package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockManager(t *testing.T, migrations, seeds fstest.MapFS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, migrations, seeds), mock
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingMigrationsInOrder(t *testing.T) {
	migrations := fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table a(id text);")},
		"sql/0001_init.down.sql": {Data: []byte("drop table a;")},
		"sql/0002_grants.up.sql": {Data: []byte("create table b(id text);\ncreate index ib on b(id);")},
	}
	mgr, mock := newMockManager(t, migrations, nil)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	// Only 0002 is pending; both of its statements run in one tx.
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index ib").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_grants.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackMostRecent(t *testing.T) {
	migrations := fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table a(id text);")},
		"sql/0001_init.down.sql": {Data: []byte("drop table a;")},
	}
	mgr, mock := newMockManager(t, migrations, nil)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := mgr.Down(context.Background()); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithoutHistoryFails(t *testing.T) {
	mgr, mock := newMockManager(t, fstest.MapFS{}, nil)
	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if err := mgr.Down(context.Background()); err == nil {
		t.Fatalf("expected error with empty history")
	}
}

func TestSeedIgnoresMigrationFiles(t *testing.T) {
	seeds := fstest.MapFS{
		"seed/0001_demo.sql":     {Data: []byte("insert into users values ('u1');")},
		"seed/0002_skip.up.sql":  {Data: []byte("should not run;")},
		"seed/0003_other.md":     {Data: []byte("notes")},
		"seed/0004_also.down.sql": {Data: []byte("should not run;")},
	}
	mgr, mock := newMockManager(t, nil, seeds)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_demo.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := mgr.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); update t set x=1;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "insert into t values ('a;b');" {
		t.Fatalf("semicolon inside string split: %q", stmts[0])
	}
}
