package model

import "time"

type LookupEventType string

const (
	EventLookupSuccess LookupEventType = "lookup_success"
	EventLookupFailed  LookupEventType = "lookup_failed"
)

// LookupEvent records a single public lookup attempt.
type LookupEvent struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	Type      LookupEventType `json:"type" gorm:"size:32;not null;index"`
	Number    string          `json:"number" gorm:"size:32;not null;index"`
	Title     string          `json:"title,omitempty" gorm:"size:255"`
	URL       string          `json:"url,omitempty" gorm:"type:text"`
	IP        string          `json:"ip" gorm:"size:64"`
	UserAgent string          `json:"user_agent" gorm:"type:text"`
	Timestamp time.Time       `json:"timestamp" gorm:"not null;index"`
}

func (LookupEvent) TableName() string { return "lookup_events" }

const (
	LookupStreamName     = "SPEEDDIAL_LOOKUPS"
	LookupStreamSubject  = "speeddial.lookups"
	LookupConsumerName   = "lookup-recorder"
	LookupStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
