package grievance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-bap/internal/beckn"
	dErrors "mobility-bap/pkg/domain-errors"
)

func respondentIssue(status string, actions ...string) beckn.Issue {
	issue := beckn.Issue{ID: "issue-1", Status: status, IssueActions: &beckn.IssueActions{}}
	for i, a := range actions {
		issue.IssueActions.RespondentActions = append(issue.IssueActions.RespondentActions, beckn.RespondentAction{
			RespondentAction: a,
			UpdatedAt:        beckn.FormatTimestamp(time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC)),
		})
	}
	return issue
}

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusProcessing, true},
		{StatusOpen, StatusResolved, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusResolved, StatusClosed, true},
		{StatusResolved, StatusProcessing, false},
		{StatusClosed, StatusOpen, false},
		{Status("BOGUS"), StatusOpen, false},
		{StatusOpen, Status("BOGUS"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusFromNetwork(t *testing.T) {
	t.Run("closed wins over respondent action", func(t *testing.T) {
		got, ok := StatusFromNetwork(respondentIssue(beckn.IssueStatusClosed, beckn.RespondentProcessing))
		require.True(t, ok)
		assert.Equal(t, StatusClosed, got)
	})
	t.Run("cascaded counts as processing", func(t *testing.T) {
		got, ok := StatusFromNetwork(respondentIssue(beckn.IssueStatusOpen, beckn.RespondentCascaded))
		require.True(t, ok)
		assert.Equal(t, StatusProcessing, got)
	})
	t.Run("latest action decides", func(t *testing.T) {
		got, ok := StatusFromNetwork(respondentIssue(beckn.IssueStatusOpen, beckn.RespondentProcessing, beckn.RespondentResolved))
		require.True(t, ok)
		assert.Equal(t, StatusResolved, got)
	})
	t.Run("no actions", func(t *testing.T) {
		_, ok := StatusFromNetwork(beckn.Issue{ID: "issue-1", Status: beckn.IssueStatusOpen})
		assert.False(t, ok)
	})
}

func TestGrievanceApplyResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("resolution recorded once terminal", func(t *testing.T) {
		g := &Grievance{IssueID: "issue-1", Status: StatusOpen}
		issue := respondentIssue(beckn.IssueStatusOpen, beckn.RespondentResolved)
		issue.Resolution = &beckn.IssueResolution{ShortDesc: "refunded", RefundAmount: "25.50"}

		g.ApplyResponse(issue, now)

		assert.Equal(t, StatusResolved, g.Status)
		require.NotNil(t, g.Resolution)
		assert.Equal(t, "refunded", g.Resolution.ShortDesc)
		require.NotNil(t, g.Resolution.RefundAmount)
		assert.Equal(t, "25.5", g.Resolution.RefundAmount.String())
		assert.Equal(t, now, g.UpdatedAt)
	})

	t.Run("stale processing does not reopen", func(t *testing.T) {
		g := &Grievance{IssueID: "issue-1", Status: StatusResolved, Resolution: &Resolution{ShortDesc: "refunded"}}

		g.ApplyResponse(respondentIssue(beckn.IssueStatusOpen, beckn.RespondentProcessing), now)

		assert.Equal(t, StatusResolved, g.Status)
		assert.Equal(t, "refunded", g.Resolution.ShortDesc)
	})

	t.Run("resolution is not replaced", func(t *testing.T) {
		g := &Grievance{IssueID: "issue-1", Status: StatusResolved, Resolution: &Resolution{ShortDesc: "first"}}
		issue := respondentIssue(beckn.IssueStatusClosed)
		issue.Resolution = &beckn.IssueResolution{ShortDesc: "second"}

		g.ApplyResponse(issue, now)

		assert.Equal(t, StatusClosed, g.Status)
		assert.Equal(t, "first", g.Resolution.ShortDesc)
	})

	t.Run("processing keeps resolution empty", func(t *testing.T) {
		g := &Grievance{IssueID: "issue-1", Status: StatusOpen}
		issue := respondentIssue(beckn.IssueStatusOpen, beckn.RespondentProcessing)
		issue.Resolution = &beckn.IssueResolution{ShortDesc: "premature"}

		g.ApplyResponse(issue, now)

		assert.Equal(t, StatusProcessing, g.Status)
		assert.Equal(t, beckn.RespondentProcessing, g.RespondentAction)
		assert.Nil(t, g.Resolution)
	})
}

func TestGrievanceClose(t *testing.T) {
	g := &Grievance{Status: StatusProcessing}
	require.NoError(t, g.Close(time.Now()))
	assert.Equal(t, StatusClosed, g.Status)

	err := g.Close(time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodePrecondition))
}
