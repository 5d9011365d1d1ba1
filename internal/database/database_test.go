package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestHealthCheckPingsThePool(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer conn.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	previous := DB
	defer SetDB(previous)
	SetDB(db)

	mock.ExpectPing()
	assert.NoError(t, HealthCheck())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckWithoutConnection(t *testing.T) {
	previous := DB
	defer SetDB(previous)
	SetDB(nil)

	assert.Error(t, HealthCheck())
}

func TestTranscodingJobIsTerminal(t *testing.T) {
	cases := map[string]bool{
		TranscodingStatusPending:   false,
		TranscodingStatusRunning:   false,
		TranscodingStatusCompleted: true,
		TranscodingStatusFailed:    true,
		TranscodingStatusCancelled: true,
	}
	for status, terminal := range cases {
		job := TranscodingJob{ID: "j", Status: status, LastAccessedAt: time.Now()}
		assert.Equal(t, terminal, job.IsTerminal(), "status %s", status)
	}
}
