package prompt

import (
	"strings"
	"testing"

	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/resume"
)

func TestPromptsLoaded(t *testing.T) {
	if SystemPrompt == "" {
		t.Error("SystemPrompt is empty, embed directive may have failed")
	}
	if userTemplate == "" {
		t.Error("userTemplate is empty, embed directive may have failed")
	}
}

func TestBuild_SubstitutesAllPlaceholders(t *testing.T) {
	p := Profile{
		Summary:         "Senior Go engineer, 8 years",
		Skills:          "Go, Postgres, Kafka",
		NegativeFilters: "no crypto",
	}
	job := model.Job{
		ID:          "j1",
		Title:       "Backend Engineer",
		Description: "Build services in Go.",
		Location:    "Remote (EU)",
	}
	resumes := []resume.Resume{
		{ID: "backend", Label: "Backend Resume", Text: "Go, Postgres."},
	}

	got := Build(p, job, resumes)

	for _, want := range []string{
		"Senior Go engineer, 8 years",
		"Go, Postgres, Kafka",
		"no crypto",
		"Backend Engineer",
		"Remote (EU)",
		"Build services in Go.",
		"### Resume: Backend Resume",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unsubstituted placeholder remains:\n%s", got)
	}
}

func TestBuild_EmptyOptionalSections(t *testing.T) {
	got := Build(Profile{}, model.Job{Title: "T", Description: "D"}, nil)
	if !strings.Contains(got, "(no resumes provided)") {
		t.Error("expected no-resumes marker")
	}
	if !strings.Contains(got, "(not specified)") {
		t.Error("expected not-specified marker for empty profile")
	}
}
