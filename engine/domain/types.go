// Package domain defines core types, constants, and validation for the
// literature engine pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

// Record is one normalized row of uploaded data. ID is either an int64
// (numeric-coercible source value or row position) or a string. Document is
// the newline-joined concatenation of the row's text fields, never absent
// though possibly empty. Payload carries the original columns.
type Record struct {
	ID       any            `json:"id"`
	Document string         `json:"document"`
	Payload  map[string]any `json:"payload"`
}

// Canonical payload column names used when assembling answer context.
const (
	ColumnTitle       = "TITLE OF THE PAPER"
	ColumnAuthor      = "YOUR COMPLETE NAME"
	ColumnAim         = "AIM OF THE PAPER"
	ColumnFindings    = "MAIN FINDINGS OF THE PAPER"
	ColumnReference   = "REFERENCE IN APA FORMAT"
	ColumnEnvironment = "TYPE OF INDOOR ENVIRONMENT"
	ColumnNomination  = "NOMINATE ACCORDING TO THE PAPER"
)

// TextColumns is the allow-list of column names (upper-cased) whose values
// make up a record's document.
var TextColumns = map[string]bool{
	ColumnTitle:       true,
	ColumnAuthor:      true,
	ColumnAim:         true,
	ColumnFindings:    true,
	ColumnReference:   true,
	ColumnEnvironment: true,
	ColumnNomination:  true,
}
