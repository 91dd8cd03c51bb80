package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	dsn, err := postgresDSN(Config{User: "ledgercat", Name: "catalog"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=ledgercat dbname=catalog sslmode=disable", dsn)

	dsn, err = postgresDSN(Config{
		User:     "ledgercat",
		Name:     "catalog",
		Host:     "db.internal",
		Port:     6543,
		Password: "pass",
		Options:  map[string]string{"sslmode": "require", "search_path": "catalog"},
	})
	require.NoError(t, err)
	require.Equal(t, "host=db.internal port=6543 user=ledgercat dbname=catalog password=pass search_path=catalog sslmode=require", dsn)

	_, err = postgresDSN(Config{})
	require.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN(Config{User: "ledgercat", Name: "catalog"})
	require.NoError(t, err)
	require.Equal(t, "ledgercat@tcp(127.0.0.1:3306)/catalog?charset=utf8mb4&loc=UTC&parseTime=True", dsn)

	dsn, err = mysqlDSN(Config{
		User:     "ledgercat",
		Password: "secret",
		Name:     "catalog",
		Host:     "db.internal",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify"},
	})
	require.NoError(t, err)
	require.Equal(t, "ledgercat:secret@tcp(db.internal:3307)/catalog?charset=utf8mb4&loc=UTC&parseTime=True&tls=skip-verify", dsn)

	_, err = mysqlDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN(Config{})
	require.NoError(t, err)
	require.Equal(t, sqliteMemoryDSN, dsn)

	dsn, err = sqliteDSN(Config{DSN: "file:custom"})
	require.NoError(t, err)
	require.Equal(t, "file:custom", dsn)

	path := filepath.Join(t.TempDir(), "nested", "catalog.sqlite")
	dsn, err = sqliteDSN(Config{Path: path})
	require.NoError(t, err)
	require.DirExists(t, filepath.Dir(path))
	require.Contains(t, dsn, "_journal_mode=WAL")
}

func TestNormaliseDriver(t *testing.T) {
	require.Equal(t, driverSQLite, normaliseDriver(""))
	require.Equal(t, driverPostgres, normaliseDriver(" PostgreSQL "))
	require.Equal(t, driverMySQL, normaliseDriver("MySQL"))
}
