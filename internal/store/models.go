package store

import "github.com/google/uuid"

func newGUID() string { return uuid.NewString() }

// Build is one row of the `builds` table. Pointer fields are nullable
// columns; `(name, number)` is unique.
type Build struct {
	GUID        string  `gorm:"column:guid;primaryKey"`
	Number      int64   `gorm:"column:number;index:idx_name_number,unique"`
	QueuedAt    int64   `gorm:"column:queued_at"`
	StartedAt   *int64  `gorm:"column:started_at"`
	CompletedAt *int64  `gorm:"column:completed_at;index"`
	Result      *int    `gorm:"column:result"`
	OutputLen   *int64  `gorm:"column:output_len"`
	ParentBuild *int64  `gorm:"column:parent_build"`
	Name        string  `gorm:"column:name;index:idx_name_number,unique;index"`
	Output      []byte  `gorm:"column:output"`
	ParentJob   *string `gorm:"column:parent_job"`
	Reason      *string `gorm:"column:reason"`
	Node        *string `gorm:"column:node"`
}

func (Build) TableName() string { return "builds" }

// Artifact is one row of the `artifacts` table.
type Artifact struct {
	GUID     string `gorm:"column:guid;primaryKey"`
	Number   int64  `gorm:"column:number;index:idx_name_number_filename,unique"`
	Filesize int64  `gorm:"column:filesize"`
	Name     string `gorm:"column:name;index:idx_name_number_filename,unique;index"`
	Filename string `gorm:"column:filename;index:idx_name_number_filename,unique"`
}

func (Artifact) TableName() string { return "artifacts" }
