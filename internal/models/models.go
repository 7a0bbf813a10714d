package models

import (
	"time"

	"gorm.io/gorm"
)

// Site is a tenant that submits comments with its API key.
type Site struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:200;not null" json:"name"`
	URL       string         `gorm:"uniqueIndex;size:500;not null" json:"url"`
	APIKey    string         `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Country   string         `gorm:"size:8;default:NONE" json:"country"` // holiday calendar, NONE = weekends only
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Site) TableName() string { return "sites" }

// CommentAnalysis is a stored prediction together with the submission it was
// made for. ActualLabel is set once an operator corrects it.
type CommentAnalysis struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	SiteID         string    `gorm:"index;size:36" json:"site_id"`
	PostID         string    `gorm:"size:100" json:"post_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Author         string    `gorm:"size:200" json:"author"`
	AuthorEmail    string    `gorm:"size:255" json:"author_email"`
	AuthorURL      string    `gorm:"size:500" json:"author_url"`
	AuthorIP       string    `gorm:"size:64" json:"author_ip"`
	UserAgent      string    `gorm:"size:500" json:"user_agent"`
	Referer        string    `gorm:"size:500" json:"referer"`
	Features       string    `gorm:"type:text" json:"-"` // JSON feature snapshot
	PredictedLabel string    `gorm:"size:20;index" json:"predicted_label"`
	IsSpam         bool      `gorm:"index" json:"is_spam"`
	Confidence     float64   `json:"confidence"`
	SpamScore      float64   `json:"spam_score"`
	RiskLevel      string    `gorm:"size:20" json:"risk_level"`
	Reasons        string    `gorm:"type:text" json:"-"` // JSON array
	ModelUsed      string    `gorm:"size:20" json:"model_used"`
	ModelVersion   string    `gorm:"size:20" json:"model_version"`
	ActualLabel    *string   `gorm:"size:20" json:"actual_label"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (CommentAnalysis) TableName() string { return "comment_analyses" }

// Feedback is an operator correction of a stored analysis, consumed by the
// retraining pipeline exactly once.
type Feedback struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	SiteID      string           `gorm:"index;size:36" json:"site_id"`
	AnalysisID  string           `gorm:"index;size:36;not null" json:"comment_id"`
	Analysis    *CommentAnalysis `gorm:"foreignKey:AnalysisID" json:"-"`
	OldLabel    string           `gorm:"size:20" json:"old_label"`
	NewLabel    string           `gorm:"size:20;not null" json:"new_label"`
	Note        string           `gorm:"size:500" json:"note"`
	Processed   bool             `gorm:"index;default:false" json:"processed"`
	ProcessedAt *time.Time       `json:"processed_at"`
	CreatedAt   time.Time        `gorm:"index" json:"created_at"`
}

func (Feedback) TableName() string { return "feedbacks" }
