package api

import (
	"time"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/generation"
)

type SummaryResponse struct {
	SchoolID              int64    `json:"school_id"`
	SchoolName            string   `json:"school_name,omitempty"`
	TotalClasses          int      `json:"total_classes"`
	TotalTeachers         int      `json:"total_teachers"`
	ClassesWithTimetables int      `json:"classes_with_timetables"`
	WorkingDays           []string `json:"working_days"`
	FetchedAt             string   `json:"fetched_at"`
}

type AcceptedResponse struct {
	Message   string `json:"message"`
	Note      string `json:"note,omitempty"`
	Generated int    `json:"generated"`
}

type GenerationResponse struct {
	RunID        string            `json:"run_id"`
	SchoolID     int64             `json:"school_id"`
	Outcome      string            `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	Level        string            `json:"level"`
	Message      string            `json:"message"`
	ClassCount   int               `json:"class_count"`
	Accepted     *AcceptedResponse `json:"accepted,omitempty"`
	Summary      *SummaryResponse  `json:"summary,omitempty"`
	RefreshError string            `json:"refresh_error,omitempty"`
	StartedAt    string            `json:"started_at"`
	FinishedAt   string            `json:"finished_at"`
}

type StateResponse struct {
	SchoolID int64  `json:"school_id"`
	Phase    string `json:"phase"`
	Busy     bool   `json:"busy"`
}

type RunResponse struct {
	ID           string `json:"id"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message"`
	ClassCount   int    `json:"class_count"`
	RefreshError string `json:"refresh_error,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toSummaryResponse(s domain.Snapshot) SummaryResponse {
	days := s.WorkingDays
	if days == nil {
		days = []string{}
	}
	return SummaryResponse{
		SchoolID:              int64(s.SchoolID),
		SchoolName:            s.SchoolName,
		TotalClasses:          s.TotalClasses,
		TotalTeachers:         s.TotalTeachers,
		ClassesWithTimetables: s.ClassesWithTimetables,
		WorkingDays:           days,
		FetchedAt:             formatTime(s.FetchedAt),
	}
}

func toGenerationResponse(res generation.Result) GenerationResponse {
	resp := GenerationResponse{
		RunID:      res.RunID.String(),
		SchoolID:   int64(res.SchoolID),
		Outcome:    string(res.Outcome.Kind),
		Reason:     res.Outcome.Reason,
		Level:      string(res.Outcome.Level()),
		Message:    res.Outcome.Message(),
		ClassCount: res.ClassCount,
		StartedAt:  formatTime(res.StartedAt),
		FinishedAt: formatTime(res.FinishedAt),
	}
	if res.Accepted != nil {
		resp.Accepted = &AcceptedResponse{
			Message:   res.Accepted.Message,
			Note:      res.Accepted.Note,
			Generated: res.Accepted.Generated,
		}
	}
	if res.Summary != nil {
		s := toSummaryResponse(*res.Summary)
		resp.Summary = &s
	}
	if res.RefreshErr != nil {
		resp.RefreshError = res.RefreshErr.Error()
	}
	return resp
}

func toRunResponse(r domain.GenerationRun) RunResponse {
	return RunResponse{
		ID:           r.ID.String(),
		Outcome:      string(r.Outcome.Kind),
		Reason:       r.Outcome.Reason,
		Message:      r.Outcome.Message(),
		ClassCount:   r.ClassCount,
		RefreshError: r.RefreshError,
		StartedAt:    formatTime(r.StartedAt),
		FinishedAt:   formatTime(r.FinishedAt),
	}
}
