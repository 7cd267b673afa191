// Package store defines the job listing entity and its sqlite-backed repository.
package store

import (
	"errors"
	"strings"
	"time"
)

// sentinel errors returned by repository operations
var (
	ErrNotFound = errors.New("job not found")
	ErrTimeout  = errors.New("storage write timed out")
)

// Job represents a single job listing. ID and CreatedAt are assigned by the
// store on create and never change afterwards.
type Job struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Category      string    `json:"category" db:"category"`
	Location      string    `json:"location" db:"location"`
	Experience    string    `json:"experience" db:"experience"`
	Education     string    `json:"education" db:"education"`
	DriveLocation string    `json:"driveLocation" db:"drive_location"`
	Description   string    `json:"description" db:"description"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// requiredFields lists content fields in their canonical order, used for
// validation messages
var requiredFields = []string{"title", "category", "location", "experience", "education", "driveLocation", "description"}

// ValidationError reports the required fields missing from a job payload
type ValidationError struct {
	Fields []string
}

// Error returns the message enumerating missing fields
func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Validate checks all seven content fields are present and non-empty.
// Returns *ValidationError naming exactly the missing fields, nil if complete.
func (j Job) Validate() error {
	values := map[string]string{
		"title":         j.Title,
		"category":      j.Category,
		"location":      j.Location,
		"experience":    j.Experience,
		"education":     j.Education,
		"driveLocation": j.DriveLocation,
		"description":   j.Description,
	}

	var missing []string
	for _, name := range requiredFields {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
