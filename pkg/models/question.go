// Package models contains shared data models used across the PALMS pipeline.
package models

import (
	"encoding/json"
	"time"
)

// Question is the minimal question payload forwarded to the external worker.
type Question struct {
	QuestionID   string          `json:"question_id"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
}

// ReplicatedQuestion is one node of a transformation forest. A root row
// (the original, untransformed question) has ParentID nil and no
// AppliedEdit. Every descendant shares the root's logical QuestionID but
// points at the database-assigned id of its immediate parent, so
// transformation-of-a-transformation lineages are walkable.
type ReplicatedQuestion struct {
	ID            int64           `db:"id"             json:"id"`
	PaperID       string          `db:"paper_id"       json:"paper_id"`
	QuestionID    string          `db:"question_id"    json:"question_id"`
	ParentID      *int64          `db:"parent_id"      json:"parent_id,omitempty"`
	JobID         *int64          `db:"job_id"         json:"job_id,omitempty"`
	QuestionText  string          `db:"question_text"  json:"question_text"`
	Options       json.RawMessage `db:"options"        json:"options,omitempty"`
	CorrectAnswer string          `db:"correct_answer" json:"correct_answer,omitempty"`
	Solution      string          `db:"solution"       json:"solution,omitempty"`
	AppliedEdit   *string         `db:"applied_edit"   json:"applied_edit,omitempty"`
	Prompt        *string         `db:"prompt"         json:"prompt,omitempty"`
	UserID        string          `db:"user_id"        json:"user_id"`
	Deleted       bool            `db:"deleted"        json:"deleted"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}

// ReplicationNode is the wire form of a generated variant as produced by the
// external worker or a bulk upload. Nested Replications carry
// transformations of this node, to unbounded depth in principle; the tree
// inserter caps the depth it will walk.
type ReplicationNode struct {
	ID            int64             `json:"id,omitempty"`
	QuestionText  string            `json:"question_text"`
	Options       json.RawMessage   `json:"options,omitempty"`
	CorrectAnswer string            `json:"correct_answer,omitempty"`
	Solution      string            `json:"solution,omitempty"`
	AppliedEdit   string            `json:"applied_edit,omitempty"`
	Prompt        string            `json:"prompt,omitempty"`
	Replications  []ReplicationNode `json:"replications,omitempty"`
}

// EnrichedQuestion pairs an original question with the variant subtrees
// generated for it.
type EnrichedQuestion struct {
	QuestionID    string            `json:"question_id"`
	QuestionText  string            `json:"question_text"`
	Options       json.RawMessage   `json:"options,omitempty"`
	CorrectAnswer string            `json:"correct_answer,omitempty"`
	Solution      string            `json:"solution,omitempty"`
	Replications  []ReplicationNode `json:"replications,omitempty"`
}
