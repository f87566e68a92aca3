package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Put_QuotaExceeded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO kv").
		WillReturnError(errors.New("database or disk is full (13)"))

	s := NewSQLiteStore(db)
	err = s.Put(context.Background(), "queue/1", []byte("x"))
	require.ErrorIs(t, err, common.ErrStorageQuotaExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Put_GenericFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO kv").
		WillReturnError(errors.New("database is locked"))

	s := NewSQLiteStore(db)
	err = s.Put(context.Background(), "queue/1", []byte("x"))
	require.ErrorIs(t, err, common.ErrStorageFailure)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Get_Failure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM kv").
		WillReturnError(errors.New("disk I/O error"))

	s := NewSQLiteStore(db)
	_, err = s.Get(context.Background(), "queue/1")
	require.ErrorIs(t, err, common.ErrStorageFailure)
	require.NoError(t, mock.ExpectationsWereMet())
}
