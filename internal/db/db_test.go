package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/labdesk/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		host     string
		port     int
		database string
		want     string
	}{
		{"default local", "root", "127.0.0.1", 3306, "labdesk", "root@tcp(127.0.0.1:3306)/labdesk?parseTime=true"},
		{"custom host and port", "lab", "10.0.0.5", 3307, "chats", "lab@tcp(10.0.0.5:3307)/chats?parseTime=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MySQLDSN(tt.user, tt.host, tt.port, tt.database))
		})
	}
}

func TestOpenSQLite_AutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labdesk.db")
	gdb, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gdb))

	assert.True(t, gdb.Migrator().HasTable(&models.KVEntry{}))
	assert.True(t, gdb.Migrator().HasTable("kv_entries"))
}

func TestAllModels(t *testing.T) {
	assert.Len(t, AllModels(), 1)
}
