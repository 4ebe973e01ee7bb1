// Package catalog maintains the standalone operation catalog: reusable
// operation templates with setup and CNC time estimates.
package catalog

import (
	"errors"
	"time"
)

// Collection is the document-store collection holding catalog entries.
const Collection = "operation_catalog"

var (
	ErrNotFound   = errors.New("catalog operation not found")
	ErrValidation = errors.New("invalid catalog operation")
	ErrConflict   = errors.New("catalog operation conflict")
)

// Operation is one catalog entry. Times are in minutes.
type Operation struct {
	ID            string  `json:"id"`
	OperationCode string  `json:"operationCode" validate:"required,max=64"`
	OperationName string  `json:"operationName" validate:"required,max=200"`
	Description   string  `json:"description,omitempty"`
	WorkCenter    string  `json:"workCenter,omitempty"`
	Machine       string  `json:"machine,omitempty"`
	SetupTime     float64 `json:"setupTime" validate:"gte=0"`
	CNCTime       float64 `json:"cncTime" validate:"gte=0"`
	TotalTime     float64 `json:"totalTime"`
	Active        bool    `json:"active"`
	CreatedBy     string  `json:"createdBy,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// derive recomputes TotalTime. Every save goes through it.
func (o *Operation) derive() {
	o.TotalTime = o.SetupTime + o.CNCTime
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search     string
	WorkCenter string
	ActiveOnly bool
	Page       int
	Limit      int
}

// ListResult is one page of catalog entries.
type ListResult struct {
	Operations []Operation `json:"operations"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}
