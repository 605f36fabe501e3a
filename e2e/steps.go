package e2e

import (
	"github.com/cucumber/godog"

	"mobility-bap/e2e/steps/booking"
	"mobility-bap/e2e/steps/common"
	"mobility-bap/e2e/steps/grievance"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background, generic requests and assertions
	common.RegisterSteps(ctx, tc)

	// Search through confirmation and cancellation
	booking.RegisterSteps(ctx, tc)

	// Issues raised against a booking
	grievance.RegisterSteps(ctx, tc)
}
