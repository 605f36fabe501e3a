package booking

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
	GetLastBody() []byte
	GetResponseField(field string) (any, error)
	Save(name, value string)
	Saved(name string) string
	Eventually(timeout time.Duration, check func() error) error
}

const transactionKey = "transactionId"

// RegisterSteps registers booking flow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &bookingSteps{tc: tc}

	ctx.Step(`^I search for a ride from "([^"]*)" to "([^"]*)"$`, steps.search)
	ctx.Step(`^ride options should arrive within (\d+) seconds$`, steps.optionsArrive)
	ctx.Step(`^I select the first ride option$`, steps.selectFirst)
	ctx.Step(`^I initialise the booking for "([^"]*)" with phone "([^"]*)"$`, steps.initBooking)
	ctx.Step(`^I confirm the booking$`, steps.confirm)
	ctx.Step(`^I request a status update$`, steps.status)
	ctx.Step(`^I cancel the booking with reason "([^"]*)"$`, steps.cancel)
	ctx.Step(`^the transaction should reach "([^"]*)" within (\d+) seconds$`, steps.phaseReached)
	ctx.Step(`^the fulfillment should reach "([^"]*)" within (\d+) seconds$`, steps.fulfillmentReached)
	ctx.Step(`^the exchange log should hold the booking messages$`, steps.exchangeLogged)
}

type bookingSteps struct {
	tc TestContext
}

type location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func parseGPS(gps string) (location, error) {
	var loc location
	if _, err := fmt.Sscanf(gps, "%f,%f", &loc.Lat, &loc.Lng); err != nil {
		return location{}, fmt.Errorf("bad gps %q: %w", gps, err)
	}
	return loc, nil
}

func (s *bookingSteps) txnID() string { return s.tc.Saved(transactionKey) }

func (s *bookingSteps) search(ctx context.Context, from, to string) error {
	origin, err := parseGPS(from)
	if err != nil {
		return err
	}
	destination, err := parseGPS(to)
	if err != nil {
		return err
	}
	if err := s.tc.POST("/search", map[string]any{"origin": origin, "destination": destination}); err != nil {
		return err
	}
	if s.tc.GetLastStatus() != 200 {
		return nil
	}
	id, err := s.tc.GetResponseField(transactionKey)
	if err != nil {
		return err
	}
	s.tc.Save(transactionKey, fmt.Sprint(id))
	return nil
}

func (s *bookingSteps) optionsArrive(ctx context.Context, seconds int) error {
	return s.tc.Eventually(time.Duration(seconds)*time.Second, func() error {
		if err := s.tc.GET("/results/"+s.txnID(), nil); err != nil {
			return err
		}
		if _, err := s.tc.GetResponseField("results.0.id"); err != nil {
			return fmt.Errorf("no ride options yet: %s", s.tc.GetLastBody())
		}
		return nil
	})
}

func (s *bookingSteps) selectFirst(ctx context.Context) error {
	if err := s.tc.GET("/results/"+s.txnID(), nil); err != nil {
		return err
	}
	itemID, err := s.tc.GetResponseField("results.0.id")
	if err != nil {
		return err
	}
	providerID, err := s.tc.GetResponseField("results.0.providerId")
	if err != nil {
		return err
	}
	return s.tc.POST("/select", map[string]any{
		"transactionId": s.txnID(),
		"providerId":    providerID,
		"itemId":        itemID,
	})
}

func (s *bookingSteps) initBooking(ctx context.Context, name, phone string) error {
	return s.tc.POST("/init", map[string]any{
		"transactionId": s.txnID(),
		"billing":       map[string]string{"name": name, "phone": phone},
	})
}

func (s *bookingSteps) confirm(ctx context.Context) error {
	return s.tc.POST("/confirm", map[string]any{"transactionId": s.txnID()})
}

func (s *bookingSteps) status(ctx context.Context) error {
	return s.tc.POST("/status", map[string]any{"transactionId": s.txnID()})
}

func (s *bookingSteps) cancel(ctx context.Context, reason string) error {
	return s.tc.POST("/cancel", map[string]any{"transactionId": s.txnID(), "reasonCode": reason})
}

func (s *bookingSteps) phaseReached(ctx context.Context, want string, seconds int) error {
	return s.awaitField("status", want, seconds)
}

func (s *bookingSteps) fulfillmentReached(ctx context.Context, want string, seconds int) error {
	return s.awaitField("fulfillmentStatus", want, seconds)
}

func (s *bookingSteps) awaitField(field, want string, seconds int) error {
	return s.tc.Eventually(time.Duration(seconds)*time.Second, func() error {
		if err := s.tc.GET("/transactions/"+s.txnID(), nil); err != nil {
			return err
		}
		got, err := s.tc.GetResponseField(field)
		if err != nil {
			return err
		}
		if fmt.Sprint(got) != want {
			return fmt.Errorf("%s is %v, want %s", field, got, want)
		}
		return nil
	})
}

func (s *bookingSteps) exchangeLogged(ctx context.Context) error {
	if err := s.tc.GET("/export-logs?txnId="+s.txnID(), nil); err != nil {
		return err
	}
	if s.tc.GetLastStatus() != 200 {
		return fmt.Errorf("export failed with %d: %s", s.tc.GetLastStatus(), s.tc.GetLastBody())
	}
	if _, err := s.tc.GetResponseField("exchanges.0"); err != nil {
		return fmt.Errorf("no exchanges recorded: %w", err)
	}
	return nil
}
