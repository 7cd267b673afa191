package web

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drivehub/joblist/app/store"
)

// recentFallbackCount limits the degraded /recent response, matching the
// cardinality the clients were built against
const recentFallbackCount = 3

// fallbackJobs returns the fixed sample dataset served when storage is
// unreachable. Content mirrors the records the frontend expects in degraded
// mode, don't change without coordinating with the clients.
func fallbackJobs() []store.Job {
	return []store.Job{
		{
			ID:            "507f1f77bcf86cd799439011",
			Title:         "Software Developer",
			Category:      "Technology",
			Location:      "Bangalore",
			Experience:    "2-4 years",
			Education:     "B.Tech/B.E in Computer Science",
			DriveLocation: "Bangalore Tech Park",
			Description: "We are looking for a skilled software developer to join our team. Experience with React, Node.js, " +
				"and MongoDB required. Join our dynamic team and work on cutting-edge projects.",
			CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "507f1f77bcf86cd799439012",
			Title:         "Data Analyst",
			Category:      "Analytics",
			Location:      "Mumbai",
			Experience:    "1-3 years",
			Education:     "B.Sc/M.Sc in Statistics or related field",
			DriveLocation: "Mumbai Business District",
			Description: "Seeking a data analyst to help us make data-driven decisions. Proficiency in SQL, Python, and data " +
				"visualization tools required. Work with large datasets and create meaningful insights.",
			CreatedAt: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "507f1f77bcf86cd799439013",
			Title:         "HR Executive",
			Category:      "Human Resources",
			Location:      "Delhi",
			Experience:    "3-5 years",
			Education:     "MBA in HR or related field",
			DriveLocation: "Delhi Corporate Center",
			Description: "Looking for an experienced HR executive to manage recruitment, employee relations, and HR policies. " +
				"Handle end-to-end recruitment process and employee engagement activities.",
			CreatedAt: time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "507f1f77bcf86cd799439014",
			Title:         "Marketing Manager",
			Category:      "Marketing",
			Location:      "Pune",
			Experience:    "4-6 years",
			Education:     "MBA in Marketing",
			DriveLocation: "Pune IT Hub",
			Description: "Seeking a creative marketing manager to lead our marketing campaigns. Experience in digital marketing, " +
				"brand management, and campaign execution required.",
			CreatedAt: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "507f1f77bcf86cd799439015",
			Title:         "UI/UX Designer",
			Category:      "Design",
			Location:      "Hyderabad",
			Experience:    "2-4 years",
			Education:     "B.Des or equivalent",
			DriveLocation: "Hyderabad Design Center",
			Description: "Looking for a talented UI/UX designer to create amazing user experiences. Proficiency in Figma, " +
				"Adobe Creative Suite, and user research methodologies required.",
			CreatedAt: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		},
	}
}

// recentFallback returns the prefix of the fallback dataset served by the
// degraded /recent endpoint
func (s *Server) recentFallback() []store.Job {
	if len(s.fallback) <= recentFallbackCount {
		return s.fallback
	}
	return s.fallback[:recentFallbackCount]
}

// fallbackFileJob is the YAML shape for a fallback dataset override
type fallbackFileJob struct {
	ID            string    `yaml:"id"`
	Title         string    `yaml:"title"`
	Category      string    `yaml:"category"`
	Location      string    `yaml:"location"`
	Experience    string    `yaml:"experience"`
	Education     string    `yaml:"education"`
	DriveLocation string    `yaml:"driveLocation"`
	Description   string    `yaml:"description"`
	CreatedAt     time.Time `yaml:"createdAt"`
}

// loadFallbackFile reads a custom fallback dataset from a YAML file. Every
// record has to pass the same validation as real data.
func loadFallbackFile(path string) ([]store.Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}

	var recs []fallbackFileJob
	if err := yaml.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to parse fallback file: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("fallback file %s has no records", path)
	}

	jobs := make([]store.Job, 0, len(recs))
	for i, rec := range recs {
		job := store.Job{
			ID:            rec.ID,
			Title:         rec.Title,
			Category:      rec.Category,
			Location:      rec.Location,
			Experience:    rec.Experience,
			Education:     rec.Education,
			DriveLocation: rec.DriveLocation,
			Description:   rec.Description,
			CreatedAt:     rec.CreatedAt,
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("fallback record %d invalid: %w", i, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
