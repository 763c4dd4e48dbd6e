package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSnapshot_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("FROM ledger.snapshots").
		WithArgs("acc1").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "balance", "snapshot_date", "last_event_id"}))

	snap, err := ds.GetSnapshot(context.Background(), "acc1")
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestGetSnapshot_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	at := time.Now().UTC()
	mock.ExpectQuery("FROM ledger.snapshots").
		WithArgs("acc1").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "balance", "snapshot_date", "last_event_id"}).
			AddRow("acc1", "300.5", at, int64(120)))

	snap, err := ds.GetSnapshot(context.Background(), "acc1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300.5").Equal(snap.Balance))
	assert.Equal(t, int64(120), snap.LastEventID)
}

func TestSaveSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	snap := &model.Snapshot{EntityID: "acc1", Balance: decimal.NewFromInt(5), SnapshotDate: time.Now().UTC(), LastEventID: 10}

	mock.ExpectExec("INSERT INTO ledger.snapshots").
		WithArgs("acc1", sqlmock.AnyArg(), snap.SnapshotDate, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}
