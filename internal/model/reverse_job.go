package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Reverse job statuses.
// pending → processing → completed | partial | failed | cancelled
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobPartial    = "partial"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// TerminalJobStatuses are the statuses a job may be deleted from.
var TerminalJobStatuses = []string{JobCompleted, JobPartial, JobFailed, JobCancelled}

// IsTerminalJob reports whether a job in status s is finished.
func IsTerminalJob(s string) bool {
	for _, t := range TerminalJobStatuses {
		if t == s {
			return true
		}
	}
	return false
}

// Reverse job item statuses.
const (
	ItemPending        = "pending"
	ItemReplaced       = "replaced"
	ItemAwaitingBuffer = "awaiting_buffer"
)

// ReverseJob is one spoilage-replacement unit of work for exactly one case.
// MasterStatusBefore is the case status captured when the job was created; the
// delete saga restores it.
type ReverseJob struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BatchID            uuid.UUID  `gorm:"type:uuid;not null;index"`
	CaseNumber         int        `gorm:"not null"`
	MasterCodeID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	Status             string     `gorm:"type:varchar(20);not null;default:'pending';index"`
	TotalSpoiled       int        `gorm:"not null;default:0"`
	TotalReplacements  int        `gorm:"not null;default:0"`
	FinalUnitCount     *int
	MasterStatusBefore string     `gorm:"type:varchar(30)"`
	MasterPackedByJob  bool       `gorm:"not null;default:false"`
	ErrorMessage       *string    `gorm:"type:text"`
	CreatedBy          *uuid.UUID `gorm:"type:uuid"`
	CancelledBy        *uuid.UUID `gorm:"type:uuid"`
	CreatedAt          time.Time  `gorm:"index"`
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	UpdatedAt          time.Time

	Items []ReverseJobItem `gorm:"foreignKey:JobID"`
	Logs  []ReverseJobLog  `gorm:"foreignKey:JobID"`
}

func (ReverseJob) TableName() string { return "qr_reverse_jobs" }

// ReverseJobItem maps one spoiled code to its replacement buffer.
// A nil ReplacementCodeID means the engine picks the buffer.
type ReverseJobItem struct {
	ID                        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	JobID                     uuid.UUID  `gorm:"type:uuid;not null;index"`
	SpoiledCodeID             uuid.UUID  `gorm:"type:uuid;not null"`
	SpoiledSequenceNo         int        `gorm:"not null"`
	ReplacementCodeID         *uuid.UUID `gorm:"type:uuid"`
	PreAssigned               bool       `gorm:"not null;default:false"`
	Status                    string     `gorm:"type:varchar(20);not null;default:'pending'"`
	SpoiledStatusBefore       string     `gorm:"type:varchar(30)"`
	SpoiledMasterCodeIDBefore *uuid.UUID `gorm:"type:uuid"`
	ProcessedAt               *time.Time
	CreatedAt                 time.Time
}

func (ReverseJobItem) TableName() string { return "qr_reverse_job_items" }

// ReverseJobLog is an append-only trace of what the engine did for a job.
type ReverseJobLog struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	JobID     uuid.UUID         `gorm:"type:uuid;not null;index"`
	Level     string            `gorm:"type:varchar(10);not null"` // info | warn | error
	Message   string            `gorm:"type:text;not null"`
	Detail    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (ReverseJobLog) TableName() string { return "qr_reverse_job_logs" }
