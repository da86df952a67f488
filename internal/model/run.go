package model

import "time"

// RunStatus is the state of a recorded pipeline run.
type RunStatus string

const (
	RunStatusRunning           RunStatus = "running"
	RunStatusComplete          RunStatus = "complete"
	RunStatusCompleteWithFails RunStatus = "complete_with_failures"
	RunStatusFailed            RunStatus = "failed"
)

// RunKind names the command that produced a run.
type RunKind string

const (
	RunKindGrid     RunKind = "grid"
	RunKindDump     RunKind = "dump"
	RunKindGenerate RunKind = "generate"
	RunKindMerge    RunKind = "merge"
)

// Run is one recorded execution with its per-carrier totals.
type Run struct {
	ID            string          `json:"id"`
	Kind          RunKind         `json:"kind"`
	Status        RunStatus       `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	Succeeded     int             `json:"succeeded"`
	Failed        int             `json:"failed"`
	CarrierTotals map[Carrier]int `json:"carrier_totals,omitempty"`
	Error         string          `json:"error,omitempty"`
}
