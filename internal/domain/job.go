/**
 * @description
 * This file defines the in-memory job model: one user-submitted batch of
 * redemption codes together with the credentials and region selection needed
 * to process it. Jobs live in the submission queue and are owned exclusively
 * by the worker slot processing them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Region is one configured remote endpoint variant a redemption call can
// target. Loaded once from configuration; immutable at runtime.
type Region struct {
	Key          string `json:"key"`           // e.g. "sg"
	EndpointCode string `json:"endpoint_code"` // e.g. "SG_IDC_03"
	Name         string `json:"name"`          // e.g. "Singapore"
}

// Credentials are the remote-service login credentials carried by a job. They
// are never persisted.
type Credentials struct {
	Email    string `json:"-"`
	Password string `json:"-"`
}

// Job is one submitted batch, constructed by ingestion only after the ledger
// debit succeeded. Enqueued once, dequeued once, never re-queued.
type Job struct {
	BatchID         uuid.UUID
	UserID          string
	Credentials     Credentials
	Codes           []string // submission order is processing order
	Regions         []Region // rotation order, >= 1
	PlatformVersion string   // e.g. "12.0"
	TotalCost       int64
	EnqueuedAt      time.Time
}

// JobResult is the terminal summary of one job run.
type JobResult struct {
	BatchID      uuid.UUID `json:"batch_id"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	Unprocessed  int       `json:"unprocessed"`
	Total        int       `json:"total"`
	Success      []string  `json:"success"` // codes, in terminal order
	Invalid      []string  `json:"invalid"`
	Err          error     `json:"-"` // validation or authentication failure, nil otherwise
}

// Session is the authenticated session descriptor returned by the session
// provider boundary.
type Session struct {
	UserID     string
	SessionID  string
	DeviceUUID string
}
