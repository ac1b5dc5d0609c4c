package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// ScanRun is the persisted record of one scan.
type ScanRun struct {
	ID           uint   `gorm:"primaryKey"`
	ScanID       string `gorm:"uniqueIndex;size:64"`
	Target       string
	TargetType   string
	Instruction  string
	Model        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Iterations   int
	TokensUsed   int
	Success      bool
	FindingCount int
}

// ToolRecord is one persisted tool execution.
type ToolRecord struct {
	ID        uint   `gorm:"primaryKey"`
	ScanID    string `gorm:"index;size:64"`
	Tool      string
	Arguments string
	Output    string
	Status    string
	Duration  time.Duration
	CreatedAt time.Time
}

// FindingRecord is one persisted vulnerability.
type FindingRecord struct {
	ID          uint   `gorm:"primaryKey"`
	ScanID      string `gorm:"index;size:64"`
	Title       string
	Severity    string
	Description string
	PoC         string
	CreatedAt   time.Time
}

// Store persists scan history to SQLite.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&ScanRun{}, &ToolRecord{}, &FindingRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun inserts or updates the run record.
func (s *Store) SaveRun(run *ScanRun) error {
	var existing ScanRun
	err := s.db.Where("scan_id = ?", run.ScanID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(run).Error
	}
	if err != nil {
		return err
	}
	run.ID = existing.ID
	return s.db.Save(run).Error
}

// SaveToolRecord appends one tool execution.
func (s *Store) SaveToolRecord(rec *ToolRecord) error {
	return s.db.Create(rec).Error
}

// SaveFinding appends one finding.
func (s *Store) SaveFinding(rec *FindingRecord) error {
	return s.db.Create(rec).Error
}

// GetRun fetches a run by scan id.
func (s *Store) GetRun(scanID string) (*ScanRun, error) {
	var run ScanRun
	if err := s.db.Where("scan_id = ?", scanID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListFindings returns findings for a scan, worst severity first.
func (s *Store) ListFindings(scanID string) ([]FindingRecord, error) {
	var out []FindingRecord
	err := s.db.Where("scan_id = ?", scanID).
		Order("case severity when 'critical' then 0 when 'high' then 1 when 'medium' then 2 when 'low' then 3 else 4 end").
		Find(&out).Error
	return out, err
}

// ListToolRecords returns tool executions for a scan in order.
func (s *Store) ListToolRecords(scanID string) ([]ToolRecord, error) {
	var out []ToolRecord
	err := s.db.Where("scan_id = ?", scanID).Order("id").Find(&out).Error
	return out, err
}
