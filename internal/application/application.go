// Package application holds the records created by bearers of register
// invites. Each record snapshots the filters of the invite that created it;
// that frozen snapshot, not any live setting, decides who may read the
// record later.
package application

import (
	"context"
	"errors"
	"time"
)

// Statuses of a submitted application.
const (
	StatusSubmitted = "submitted"
	StatusReview    = "review"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
)

var ErrNotFound = errors.New("application: not found")

// Document is one file reference attached to an application.
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Application is one submission. FilterSnapshot is copied from the creating
// invite at write time and never changes afterwards.
type Application struct {
	ID             string         `json:"id"`
	InviteID       string         `json:"invite_id"`
	ApplicantName  string         `json:"applicant_name"`
	Sectors        []string       `json:"sectors,omitempty"`
	FilterSnapshot []string       `json:"filter_snapshot,omitempty"`
	PersonalInfo   map[string]any `json:"personal_info,omitempty"`
	Documents      []Document     `json:"documents,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Store persists applications. Records are append-mostly: status may change
// during review but identity, invite link, and filter snapshot are fixed.
type Store interface {
	Create(ctx context.Context, app *Application) error
	FindByID(ctx context.Context, id string) (*Application, error)
	List(ctx context.Context) ([]*Application, error)
}
