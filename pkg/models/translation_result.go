package models

import (
	"encoding/json"
	"time"
)

// QuestionTranslation is the translated content for one target language.
type QuestionTranslation struct {
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	Solution     string          `json:"solution,omitempty"`
}

// TranslationResult holds every language translation produced for one
// question, plus the glossary snapshots the worker applied. The natural key
// is (paper_id, question_id): repeated callbacks for the same question
// update the existing row in place.
type TranslationResult struct {
	ID           int64                          `db:"id"           json:"id"`
	PaperID      string                         `db:"paper_id"     json:"paper_id"`
	QuestionID   string                         `db:"question_id"  json:"question_id"`
	JobID        int64                          `db:"job_id"       json:"job_id"`
	Translations map[string]QuestionTranslation `db:"translations" json:"translations"`
	LocalWords   json.RawMessage                `db:"local_words"  json:"local_words,omitempty"`
	GlobalWords  json.RawMessage                `db:"global_words" json:"global_words,omitempty"`
	UserID       string                         `db:"user_id"      json:"user_id"`
	CreatedAt    time.Time                      `db:"created_at"   json:"created_at"`
	UpdatedAt    time.Time                      `db:"updated_at"   json:"updated_at"`
}
