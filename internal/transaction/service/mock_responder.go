package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/network"
	"mobility-bap/internal/platform/worker"
	"mobility-bap/internal/transaction/models"
	dErrors "mobility-bap/pkg/domain-errors"
)

// rideProgress is the sequence of fulfillment states walked by successive
// status polls.
var rideProgress = []string{
	"RIDE_ENROUTE_PICKUP",
	"RIDE_ARRIVED_PICKUP",
	"RIDE_STARTED",
	"RIDE_ENDED",
}

type mockOffer struct {
	providerID   string
	providerName string
	itemID       string
	itemName     string
	category     string
	base         decimal.Decimal
	perKm        decimal.Decimal
}

var mockOffers = []mockOffer{
	{
		providerID: "mock-auto", providerName: "Mock Autos",
		itemID: "auto-standard", itemName: "Auto Rickshaw", category: "AUTO_RICKSHAW",
		base: decimal.NewFromInt(30), perKm: decimal.NewFromInt(15),
	},
	{
		providerID: "mock-cab", providerName: "Mock Cabs",
		itemID: "cab-sedan", itemName: "Sedan", category: "CAB",
		base: decimal.NewFromInt(50), perKm: decimal.NewFromInt(22),
	},
}

type mockRide struct {
	from, to models.Location
	step     int
}

// MockResponder plays the provider side of the protocol so the booking flow
// runs without a network.
type MockResponder struct {
	provider beckn.Counterparty
	clock    func() time.Time

	mu    sync.Mutex
	rides map[string]*mockRide
}

// NewMockResponder creates a responder that answers as provider.
func NewMockResponder(provider beckn.Counterparty) *MockResponder {
	return &MockResponder{
		provider: provider,
		clock:    time.Now,
		rides:    make(map[string]*mockRide),
	}
}

// Respond returns the callbacks a provider would send for the signed body.
// Search yields one callback per mock provider.
func (m *MockResponder) Respond(body []byte) ([]beckn.Request, error) {
	var req beckn.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch req.Context.Action {
	case beckn.ActionSearch:
		return m.onSearch(req)
	case beckn.ActionSelect:
		return m.single(req, m.onSelect)
	case beckn.ActionInit:
		return m.single(req, m.onInit)
	case beckn.ActionConfirm:
		return m.single(req, m.onConfirm)
	case beckn.ActionStatus:
		return m.single(req, m.onStatus)
	case beckn.ActionCancel:
		return m.single(req, m.onCancel)
	default:
		return nil, fmt.Errorf("no mock response for %q", req.Context.Action)
	}
}

func (m *MockResponder) reply(req beckn.Request, message any) (beckn.Request, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return beckn.Request{}, err
	}
	ctx := req.Context
	ctx.Action = beckn.CallbackFor(req.Context.Action)
	ctx.BPPID = m.provider.ID
	ctx.BPPURI = m.provider.URI
	ctx.Timestamp = beckn.FormatTimestamp(m.clock())
	return beckn.Request{Context: ctx, Message: raw}, nil
}

func (m *MockResponder) single(req beckn.Request, build func(beckn.Request) (any, error)) ([]beckn.Request, error) {
	message, err := build(req)
	if err != nil {
		return nil, err
	}
	out, err := m.reply(req, message)
	if err != nil {
		return nil, err
	}
	return []beckn.Request{out}, nil
}

func (m *MockResponder) onSearch(req beckn.Request) ([]beckn.Request, error) {
	var msg beckn.SearchMessage
	if err := req.Decode(&msg); err != nil {
		return nil, err
	}
	from, to, err := routeOf(msg.Intent.Fulfillment)
	if err != nil {
		return nil, err
	}
	km := decimal.NewFromFloat(distanceKm(from, to))

	out := make([]beckn.Request, 0, len(mockOffers))
	for _, offer := range mockOffers {
		fulfillmentID := offer.itemID + "-ride"
		price := offer.base.Add(offer.perKm.Mul(km)).Round(0)
		catalog := beckn.OnSearchMessage{Catalog: beckn.Catalog{
			Descriptor: &beckn.Descriptor{Name: "Mock Mobility"},
			Providers: []beckn.Provider{{
				ID:         offer.providerID,
				Descriptor: &beckn.Descriptor{Name: offer.providerName},
				Items: []beckn.Item{{
					ID:             offer.itemID,
					Descriptor:     &beckn.Descriptor{Name: offer.itemName, Code: "RIDE"},
					Price:          &beckn.Price{Currency: "INR", Value: price.StringFixed(2)},
					FulfillmentIDs: []string{fulfillmentID},
				}},
				Fulfillments: []beckn.Fulfillment{{
					ID:      fulfillmentID,
					Type:    "DELIVERY",
					Vehicle: &beckn.Vehicle{Category: offer.category},
				}},
			}},
		}}
		r, err := m.reply(req, catalog)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MockResponder) onSelect(req beckn.Request) (any, error) {
	order, err := orderOf(req)
	if err != nil {
		return nil, err
	}
	quote, err := quoteFor(order)
	if err != nil {
		return nil, err
	}
	order.Quote = quote
	return beckn.OrderMessage{Order: order}, nil
}

func (m *MockResponder) onInit(req beckn.Request) (any, error) {
	order, err := orderOf(req)
	if err != nil {
		return nil, err
	}
	quote, err := quoteFor(order)
	if err != nil {
		return nil, err
	}
	order.Quote = quote
	for i := range order.Payments {
		order.Payments[i].ID = fmt.Sprintf("pay-%d", i+1)
	}
	return beckn.OrderMessage{Order: order}, nil
}

func (m *MockResponder) onConfirm(req beckn.Request) (any, error) {
	order, err := orderOf(req)
	if err != nil {
		return nil, err
	}
	var from, to models.Location
	if len(order.Fulfillments) > 0 {
		f := order.Fulfillments[0]
		from, to, err = routeOf(&f)
		if err != nil {
			return nil, err
		}
	}
	order.ID = "mock-order-" + uuid.NewString()[:8]
	order.Status = "ACTIVE"
	order.State = "Created"
	now := beckn.FormatTimestamp(m.clock())
	order.CreatedAt, order.UpdatedAt = now, now
	if len(order.Fulfillments) > 0 {
		f := &order.Fulfillments[0]
		f.State = &beckn.State{Descriptor: beckn.Descriptor{Code: "RIDE_ASSIGNED"}}
		f.Agent = &beckn.Agent{
			Person:   &beckn.Person{Name: "Mock Driver"},
			Contact:  &beckn.Contact{Phone: "9999999999"},
			Location: &beckn.Location{GPS: offset(from, 0.01).GPS()},
		}
		f.Vehicle = &beckn.Vehicle{Category: "CAB", Registration: "KA01AB1234"}
	}

	m.mu.Lock()
	m.rides[order.ID] = &mockRide{from: from, to: to}
	m.mu.Unlock()
	return beckn.OrderMessage{Order: order}, nil
}

func (m *MockResponder) onStatus(req beckn.Request) (any, error) {
	var msg beckn.StatusMessage
	if err := req.Decode(&msg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	ride, ok := m.rides[msg.OrderID]
	var state string
	var at models.Location
	if ok {
		state = rideProgress[ride.step]
		at = ride.positionAt(ride.step)
		if ride.step < len(rideProgress)-1 {
			ride.step++
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown order %q", msg.OrderID)
	}

	return beckn.OrderMessage{Order: beckn.Order{
		ID:        msg.OrderID,
		Status:    "ACTIVE",
		UpdatedAt: beckn.FormatTimestamp(m.clock()),
		Fulfillments: []beckn.Fulfillment{{
			State: &beckn.State{Descriptor: beckn.Descriptor{Code: state}},
			Agent: &beckn.Agent{Location: &beckn.Location{GPS: at.GPS()}},
		}},
	}}, nil
}

func (m *MockResponder) onCancel(req beckn.Request) (any, error) {
	var msg beckn.CancelMessage
	if err := req.Decode(&msg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	_, ok := m.rides[msg.OrderID]
	delete(m.rides, msg.OrderID)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown order %q", msg.OrderID)
	}

	return beckn.OrderMessage{Order: beckn.Order{
		ID:        msg.OrderID,
		Status:    "CANCELLED",
		UpdatedAt: beckn.FormatTimestamp(m.clock()),
		Cancellation: &beckn.Cancellation{
			CancelledBy: "CONSUMER",
			Reason:      &beckn.Descriptor{Code: msg.CancellationReasonID},
		},
		Fulfillments: []beckn.Fulfillment{{
			State: &beckn.State{Descriptor: beckn.Descriptor{Code: "RIDE_CANCELLED"}},
		}},
	}}, nil
}

func (r *mockRide) positionAt(step int) models.Location {
	switch rideProgress[step] {
	case "RIDE_ENROUTE_PICKUP":
		return offset(r.from, 0.005)
	case "RIDE_STARTED":
		return models.Location{Lat: (r.from.Lat + r.to.Lat) / 2, Lng: (r.from.Lng + r.to.Lng) / 2}
	case "RIDE_ENDED":
		return r.to
	default:
		return r.from
	}
}

func orderOf(req beckn.Request) (beckn.Order, error) {
	var msg beckn.OrderMessage
	if err := req.Decode(&msg); err != nil {
		return beckn.Order{}, err
	}
	if len(msg.Order.Items) == 0 {
		return beckn.Order{}, errors.New("order has no items")
	}
	return msg.Order, nil
}

// quoteFor prices the order from its item, splitting out a 5% tax line.
func quoteFor(order beckn.Order) (*beckn.Quote, error) {
	item := order.Items[0]
	if item.Price == nil {
		return nil, fmt.Errorf("item %q has no price", item.ID)
	}
	total, err := decimal.NewFromString(item.Price.Value)
	if err != nil {
		return nil, err
	}
	base := total.Div(decimal.NewFromFloat(1.05)).Round(2)
	tax := total.Sub(base)
	currency := item.Price.Currency
	return &beckn.Quote{
		Price: beckn.Price{Currency: currency, Value: total.StringFixed(2)},
		Breakup: []beckn.Breakup{
			{Title: "BASE_FARE", Price: beckn.Price{Currency: currency, Value: base.StringFixed(2)}},
			{Title: "TAX", Price: beckn.Price{Currency: currency, Value: tax.StringFixed(2)}},
		},
		TTL: "PT5M",
	}, nil
}

func routeOf(f *beckn.Fulfillment) (from, to models.Location, err error) {
	if f == nil {
		return from, to, errors.New("fulfillment is missing")
	}
	var haveFrom, haveTo bool
	for _, stop := range f.Stops {
		loc, err := models.ParseLocation(stop.Location.GPS)
		if err != nil {
			return from, to, err
		}
		switch stop.Type {
		case beckn.StopStart:
			from, haveFrom = loc, true
		case beckn.StopEnd:
			to, haveTo = loc, true
		}
	}
	if !haveFrom || !haveTo {
		return from, to, errors.New("fulfillment needs start and end stops")
	}
	return from, to, nil
}

func offset(l models.Location, d float64) models.Location {
	return models.Location{Lat: l.Lat + d, Lng: l.Lng + d}
}

// distanceKm is the great-circle distance between two points.
func distanceKm(a, b models.Location) float64 {
	const earthRadiusKm = 6371.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// scheduleMock synthesizes the provider's callbacks for signed and delivers
// them after the configured delay.
func (s *Service) scheduleMock(ctx context.Context, signed network.Signed) error {
	responses, err := s.mock.Respond(signed.Body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mock responder failed")
	}
	for i, resp := range responses {
		task := worker.Task{
			Name:  "mock." + resp.Context.Action,
			Delay: s.mockDelay * time.Duration(i+1),
			Run: func(taskCtx context.Context) error {
				return s.deliverMockCallback(taskCtx, resp)
			},
		}
		if s.scheduler == nil {
			if err := task.Run(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "mock callback failed", "action", resp.Context.Action, "error", err)
			}
			continue
		}
		if err := s.scheduler.Submit(task); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule mock callback")
		}
	}
	return nil
}

func (s *Service) deliverMockCallback(ctx context.Context, req beckn.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Entry{
		TransactionID: req.Context.TransactionID,
		MessageID:     req.Context.MessageID,
		Action:        req.Context.Action,
		Direction:     audit.DirectionInbound,
		Source:        req.Context.BPPURI,
		Destination:   s.participant.SubscriberURI,
		Payload:       raw,
		Status:        "RECEIVED",
	})
	err = s.Handle(ctx, req)
	if errors.Is(err, ErrUnknownTransaction) || dErrors.HasCode(err, dErrors.CodePrecondition) {
		return nil
	}
	return err
}
