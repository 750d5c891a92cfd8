package mmodel

import "time"

// Workspace is the top-level collaboration unit. Every workspace has
// exactly one head change set whose snapshot is the shared baseline.
type Workspace struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	DefaultChangeSetID string    `json:"defaultChangeSetId"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
