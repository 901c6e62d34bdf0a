// Package memorydb is the optional relational sink for cycle memory
// records, adapted from the teacher's internal/db MySQL recorder onto this
// domain's adapters.Memory shape.
package memorydb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aegis/internal/adapters"
)

// MemoryRecord is the database model for one recorded cycle outcome.
type MemoryRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ModeID    string    `gorm:"index;not null"`
	Outcome   string    `gorm:"not null"`
	Reason    string    `gorm:"type:text"`
	Errors    string    `gorm:"type:text;comment:semicolon-joined"`
	Timestamp time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (MemoryRecord) TableName() string {
	return "cycle_memories"
}

// SponsorshipReceipt is the database model for a completed sponsorship,
// the persisted counterpart to a queue.Request once it reaches a terminal
// state.
type SponsorshipReceipt struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	RequestID     string    `gorm:"uniqueIndex;not null"`
	ProtocolID    string    `gorm:"index;not null"`
	AgentAddress  string    `gorm:"index;not null"`
	Status        string    `gorm:"not null"`
	TxHash        string    `gorm:"index"`
	ActualCostUSD float64   `gorm:"not null"`
	RecordedAt    time.Time `gorm:"index;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (SponsorshipReceipt) TableName() string {
	return "sponsorship_receipts"
}

// MySQLRecorder implements adapters.MemoryRecorder using GORM and MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a MySQL connection and migrates the recorder's
// tables. dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.AutoMigrate(&MemoryRecord{}, &SponsorshipReceipt{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// Record implements adapters.MemoryRecorder.
func (r *MySQLRecorder) Record(ctx context.Context, m adapters.Memory) error {
	record := MemoryRecord{
		ModeID:  m.ModeID,
		Outcome: string(m.Outcome),
		Reason:  m.Reason,
	}
	if len(m.Errors) > 0 {
		record.Errors = joinSemicolon(m.Errors)
	}
	if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		record.Timestamp = ts
	} else {
		record.Timestamp = time.Now()
	}

	if result := r.db.WithContext(ctx).Create(&record); result.Error != nil {
		return fmt.Errorf("failed to record memory: %w", result.Error)
	}
	return nil
}

// RecordReceipt persists a completed sponsorship's terminal outcome.
func (r *MySQLRecorder) RecordReceipt(ctx context.Context, receipt SponsorshipReceipt) error {
	receipt.RecordedAt = time.Now()
	if result := r.db.WithContext(ctx).Create(&receipt); result.Error != nil {
		return fmt.Errorf("failed to record sponsorship receipt: %w", result.Error)
	}
	return nil
}

// RecentMemories returns the most recent n cycle memories for a mode, most
// recent first.
func (r *MySQLRecorder) RecentMemories(ctx context.Context, modeID string, n int) ([]MemoryRecord, error) {
	var records []MemoryRecord
	result := r.db.WithContext(ctx).
		Where("mode_id = ?", modeID).
		Order("timestamp DESC").
		Limit(n).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query recent memories: %w", result.Error)
	}
	return records, nil
}

// Close closes the underlying database connection.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func joinSemicolon(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
