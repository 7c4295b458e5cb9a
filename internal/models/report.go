package models

import "github.com/google/uuid"

// MaintenanceReport summarizes a batch maintenance job. A single record's
// failure is collected here instead of aborting the batch.
type MaintenanceReport struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// AddSuccess records one successfully processed record.
func (r *MaintenanceReport) AddSuccess() {
	r.Attempted++
	r.Succeeded++
}

// AddFailure records one failed record without stopping the batch.
func (r *MaintenanceReport) AddFailure(err error) {
	r.Attempted++
	r.Failed++
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Merge folds another report into this one.
func (r *MaintenanceReport) Merge(other MaintenanceReport) {
	r.Attempted += other.Attempted
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// BackfillReport is the result of the historical thread repair pass:
// how many threads were recovered, deleted as unrecoverable, and merged
// away as duplicates of another thread for the same pair.
type BackfillReport struct {
	Recovered     int               `json:"recovered"`
	Unrecoverable int               `json:"unrecoverable"`
	Deduplicated  int               `json:"deduplicated"`
	Report        MaintenanceReport `json:"report"`
}

// ConsolidationReport is the result of merging duplicate ghost accounts
// into one canonical placeholder.
type ConsolidationReport struct {
	CanonicalID uuid.UUID         `json:"canonicalId"`
	MergedIDs   []uuid.UUID       `json:"mergedIds"`
	Report      MaintenanceReport `json:"report"`
}
