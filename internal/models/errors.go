package models

import "errors"

// Errors shared by every queue repository implementation.
var (
	ErrEntryNotFound    = errors.New("queue entry not found")
	ErrTemplateNotFound = errors.New("template not found")

	// ErrClaimConflict is returned when a conditional status transition lost
	// against a concurrent writer or targeted a terminal entry.
	ErrClaimConflict = errors.New("queue entry status changed concurrently")
)
