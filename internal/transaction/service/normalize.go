package service

import (
	"context"

	"github.com/shopspring/decimal"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/transaction/models"
)

// Result tags derived from a fare estimate.
const (
	TagBelowEstimate  = "BELOW_ESTIMATE"
	TagWithinEstimate = "WITHIN_ESTIMATE"
	TagAboveEstimate  = "ABOVE_ESTIMATE"
	TagSurge          = "SURGE"
)

// FareEstimate is the expected fare band for a route.
type FareEstimate struct {
	PriceMin     decimal.Decimal
	PriceMax     decimal.Decimal
	ETAMinutes   int
	SurgePercent decimal.Decimal
}

// FareEstimator predicts the fare for a route.
type FareEstimator interface {
	Estimate(ctx context.Context, origin, destination models.Location) (FareEstimate, error)
}

// InsightGenerator writes a short human-readable note about an offer.
type InsightGenerator interface {
	Describe(ctx context.Context, result models.Result, seen []models.Result) (string, error)
}

// CompareToEstimate tags price against the estimate band.
func CompareToEstimate(price decimal.Decimal, est FareEstimate) []string {
	var tags []string
	switch {
	case price.LessThan(est.PriceMin):
		tags = append(tags, TagBelowEstimate)
	case price.GreaterThan(est.PriceMax):
		tags = append(tags, TagAboveEstimate)
	default:
		tags = append(tags, TagWithinEstimate)
	}
	if est.SurgePercent.IsPositive() {
		tags = append(tags, TagSurge)
	}
	return tags
}

// annotate adds estimate tags and insights. Failures leave results as they
// are.
func (s *Service) annotate(ctx context.Context, txn *models.Transaction, results []models.Result) {
	if s.estimator != nil && len(results) > 0 {
		est, err := s.estimator.Estimate(ctx, txn.Origin, txn.Destination)
		if err != nil {
			s.logger.DebugContext(ctx, "fare estimate unavailable", "transaction_id", txn.ID, "error", err)
		} else {
			for i := range results {
				results[i].Tags = CompareToEstimate(results[i].Price, est)
			}
		}
	}
	if s.insights == nil {
		return
	}
	for i := range results {
		text, err := s.insights.Describe(ctx, results[i], txn.Results)
		if err != nil {
			s.logger.DebugContext(ctx, "insight unavailable", "transaction_id", txn.ID, "error", err)
			continue
		}
		results[i].Insight = text
	}
}

// resultsFromCatalog flattens a catalog into results. Items without a
// parseable price are skipped and counted.
func resultsFromCatalog(catalog beckn.Catalog, bpp beckn.Counterparty) ([]models.Result, int) {
	var (
		results []models.Result
		skipped int
	)
	for _, p := range catalog.Providers {
		providerName := ""
		if p.Descriptor != nil {
			providerName = p.Descriptor.Name
		}
		for _, item := range p.Items {
			if item.Price == nil {
				skipped++
				continue
			}
			price, err := decimal.NewFromString(item.Price.Value)
			if err != nil {
				skipped++
				continue
			}
			r := models.Result{
				ID:           item.ID,
				ProviderID:   p.ID,
				ProviderName: providerName,
				Price:        price,
				Currency:     item.Price.Currency,
				BPPID:        bpp.ID,
				BPPURI:       bpp.URI,
			}
			if item.Descriptor != nil {
				r.Name = item.Descriptor.Name
			}
			if len(item.FulfillmentIDs) > 0 {
				r.FulfillmentID = item.FulfillmentIDs[0]
				r.VehicleCategory = vehicleCategory(p.Fulfillments, r.FulfillmentID)
			}
			results = append(results, r)
		}
	}
	return results, skipped
}

func vehicleCategory(fulfillments []beckn.Fulfillment, id string) string {
	for _, f := range fulfillments {
		if f.ID == id && f.Vehicle != nil {
			return f.Vehicle.Category
		}
	}
	return ""
}
