package grievance

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetLastStatus() int
	GetResponseField(field string) (any, error)
	Save(name, value string)
	Saved(name string) string
	Eventually(timeout time.Duration, check func() error) error
}

const issueKey = "issueId"

// RegisterSteps registers issue step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &grievanceSteps{tc: tc}

	ctx.Step(`^I raise a "([^"]*)" issue "([^"]*)" about the booking$`, steps.raise)
	ctx.Step(`^the issue should reach "([^"]*)" within (\d+) seconds$`, steps.statusReached)
	ctx.Step(`^I close the issue$`, steps.close)
}

type grievanceSteps struct {
	tc TestContext
}

func (s *grievanceSteps) raise(ctx context.Context, category, subCategory string) error {
	err := s.tc.POST("/issue", map[string]any{
		"transactionId": s.tc.Saved("transactionId"),
		"category":      category,
		"subCategory":   subCategory,
		"description":   "Driver took a longer route",
		"complainant":   map[string]string{"name": "Asha", "phone": "9876543210"},
	})
	if err != nil {
		return err
	}
	if code := s.tc.GetLastStatus(); code != 201 && code != 202 {
		return nil
	}
	id, err := s.tc.GetResponseField(issueKey)
	if err != nil {
		return err
	}
	s.tc.Save(issueKey, fmt.Sprint(id))
	return nil
}

func (s *grievanceSteps) statusReached(ctx context.Context, want string, seconds int) error {
	return s.tc.Eventually(time.Duration(seconds)*time.Second, func() error {
		if err := s.tc.GET("/issues/"+s.tc.Saved(issueKey), nil); err != nil {
			return err
		}
		got, err := s.tc.GetResponseField("status")
		if err != nil {
			return err
		}
		if fmt.Sprint(got) != want {
			return fmt.Errorf("issue is %v, want %s", got, want)
		}
		return nil
	})
}

func (s *grievanceSteps) close(ctx context.Context) error {
	return s.tc.POST("/issue/close", map[string]any{issueKey: s.tc.Saved(issueKey)})
}
