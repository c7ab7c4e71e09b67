package model

import "time"

// Entry maps one dialable number to a destination URL.
type Entry struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Number    string    `json:"number" gorm:"size:32;not null;uniqueIndex:idx_speed_dial_map_number"`
	Title     string    `json:"title" gorm:"size:255;not null"`
	URL       string    `json:"url" gorm:"type:text;not null"`
	Note      string    `json:"note" gorm:"type:text"`
	IsActive  bool      `json:"is_active" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Entry) TableName() string { return "speed_dial_map" }

// Suggestion is the public projection returned by prefix search.
type Suggestion struct {
	Number string `json:"number"`
	Title  string `json:"title"`
}

// ExportRow is the projection written to CSV exports.
type ExportRow struct {
	Number   string
	Title    string
	URL      string
	Note     string
	IsActive bool
}
