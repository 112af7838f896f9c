package models

import "time"

// KVEntry is one named slot in the local key-value table.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (KVEntry) TableName() string { return "kv_entries" }
