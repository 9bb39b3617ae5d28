// Package prompt builds the evaluation prompt sent to LLM providers.
//
// The templates are embedded at compile time. The system prompt fixes the
// output contract (a single JSON object with the result schema); the user
// prompt carries the candidate profile and the job posting.
package prompt

import (
	"strings"

	_ "embed"

	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/resume"
)

// SystemPrompt is the system-level instruction for the evaluator.
//
//go:embed prompts/system.md
var SystemPrompt string

//go:embed prompts/user.md
var userTemplate string

// Profile is the candidate-side context embedded in every prompt.
// Read fresh from settings on each attempt.
type Profile struct {
	// Summary is free text describing the candidate.
	Summary string
	// Skills is free text listing skills to match against.
	Skills string
	// NegativeFilters is free text describing hard exclusions
	// (e.g., "no relocation, no crypto companies").
	NegativeFilters string
}

// Build renders the user prompt for one evaluation. Resume sections are
// appended in selection order; an empty slice means no resumes are sent.
func Build(p Profile, job model.Job, resumes []resume.Resume) string {
	out := userTemplate
	out = strings.ReplaceAll(out, "{{PROFILE}}", orNone(p.Summary))
	out = strings.ReplaceAll(out, "{{SKILLS}}", orNone(p.Skills))
	out = strings.ReplaceAll(out, "{{NEGATIVE_FILTERS}}", orNone(p.NegativeFilters))
	out = strings.ReplaceAll(out, "{{JOB_TITLE}}", job.Title)
	out = strings.ReplaceAll(out, "{{JOB_LOCATION}}", orNone(job.Location))
	out = strings.ReplaceAll(out, "{{JOB_DESCRIPTION}}", job.Description)
	out = strings.ReplaceAll(out, "{{RESUMES}}", renderResumes(resumes))
	return out
}

func renderResumes(resumes []resume.Resume) string {
	if len(resumes) == 0 {
		return "(no resumes provided)"
	}
	var b strings.Builder
	for _, r := range resumes {
		b.WriteString("### Resume: ")
		b.WriteString(r.Label)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(r.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(not specified)"
	}
	return s
}
