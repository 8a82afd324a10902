package models

import "time"

// TaggingResult holds the four-level taxonomy assigned to one question by a
// tagging job. The natural key is (paper_id, question_id, job_id): at most
// one live (non-deleted) row may exist per triple, enforced by a partial
// unique index and upserted atomically.
type TaggingResult struct {
	ID         int64     `db:"id"          json:"id"`
	PaperID    string    `db:"paper_id"    json:"paper_id"`
	QuestionID string    `db:"question_id" json:"question_id"`
	JobID      int64     `db:"job_id"      json:"job_id"`
	Area       *string   `db:"area"        json:"area,omitempty"`
	SubArea    *string   `db:"sub_area"    json:"sub_area,omitempty"`
	Topic      *string   `db:"topic"       json:"topic,omitempty"`
	SubTopic   *string   `db:"sub_topic"   json:"sub_topic,omitempty"`
	UserID     string    `db:"user_id"     json:"user_id"`
	Deleted    bool      `db:"deleted"     json:"deleted"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// Tagged reports whether all four taxonomy levels are present. "Tagged" is
// derived, never stored.
func (r *TaggingResult) Tagged() bool {
	return r.Area != nil && r.SubArea != nil && r.Topic != nil && r.SubTopic != nil
}
