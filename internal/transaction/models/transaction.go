package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"mobility-bap/internal/beckn"
	dErrors "mobility-bap/pkg/domain-errors"
)

// Precondition failures returned to the local caller. The transaction is
// left unchanged when any of these is returned.
var (
	ErrItemNotFound         = dErrors.New(dErrors.CodePrecondition, "item is not among the search results")
	ErrItemAlreadySelected  = dErrors.New(dErrors.CodePrecondition, "a different item is already selected")
	ErrInitWithoutSelection = dErrors.New(dErrors.CodePrecondition, "init requires a selected item")
	ErrConfirmWithoutInit   = dErrors.New(dErrors.CodePrecondition, "confirm requires a completed init")
	ErrNotConfirmed         = dErrors.New(dErrors.CodePrecondition, "order is not confirmed")
	ErrInvalidTransition    = dErrors.New(dErrors.CodePrecondition, "action not allowed in the current phase")
	ErrExpired              = dErrors.New(dErrors.CodePrecondition, "transaction has expired")
)

// Location is a coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return dErrors.New(dErrors.CodeValidation, "coordinates out of range")
	}
	return nil
}

// GPS renders the location in network form.
func (l Location) GPS() string { return beckn.FormatGPS(l.Lat, l.Lng) }

// ParseLocation reads a network "lat, lng" string.
func ParseLocation(gps string) (Location, error) {
	lat, lng, err := beckn.ParseGPS(gps)
	if err != nil {
		return Location{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid gps")
	}
	return Location{Lat: lat, Lng: lng}, nil
}

// Result is one normalized provider offer. Money fields marshal as JSON
// strings ("250.50"), matching the network's price.value, so amounts never
// pass through a float.
type Result struct {
	ID              string          `json:"id"`
	ProviderID      string          `json:"providerId"`
	ProviderName    string          `json:"providerName,omitempty"`
	Name            string          `json:"name,omitempty"`
	VehicleCategory string          `json:"vehicleCategory,omitempty"`
	FulfillmentID   string          `json:"fulfillmentId,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	BPPID           string          `json:"bppId"`
	BPPURI          string          `json:"bppUri"`
	Tags            []string        `json:"tags,omitempty"`
	Insight         string          `json:"insight,omitempty"`
}

// Key identifies a result across deliveries.
func (r Result) Key() string { return r.ProviderID + "/" + r.ID }

// Counterparty returns the provider that offered r.
func (r Result) Counterparty() *beckn.Counterparty {
	return &beckn.Counterparty{ID: r.BPPID, URI: r.BPPURI}
}

// FareLine is one line of a quote breakup.
type FareLine struct {
	Title  string          `json:"title"`
	Amount decimal.Decimal `json:"amount"`
}

// FareQuote is the priced offer returned by on_select.
type FareQuote struct {
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Breakup  []FareLine      `json:"breakup,omitempty"`
	TTL      string          `json:"ttl,omitempty"`
}

// CounterpartyError records an application-level failure reported by the network.
type CounterpartyError struct {
	Action  string    `json:"action"`
	Type    string    `json:"type,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Transaction is one ride-booking attempt.
//
// Invariants:
//   - SelectedItem references an entry of Results and is set once
//   - InitOrder requires SelectedItem; ConfirmedOrder requires InitOrder
//   - Results only grow, deduplicated by provider and item
//   - Phase and Fulfillment only move along their transition tables
type Transaction struct {
	ID             string             `json:"transactionId"`
	Phase          Phase              `json:"status"`
	Fulfillment    FulfillmentPhase   `json:"fulfillmentStatus,omitempty"`
	Origin         Location           `json:"origin"`
	Destination    Location           `json:"destination"`
	Results        []Result           `json:"results"`
	SelectedItem   *Result            `json:"selectedItem,omitempty"`
	Quote          *FareQuote         `json:"quote,omitempty"`
	InitOrder      *beckn.Order       `json:"initOrder,omitempty"`
	ConfirmedOrder *beckn.Order       `json:"confirmedOrder,omitempty"`
	DriverLocation *Location          `json:"driverLocation,omitempty"`
	LastError      *CounterpartyError `json:"lastError,omitempty"`
	LastAction     string             `json:"lastAction,omitempty"`
	LastMessageID  string             `json:"lastMessageId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// NewTransaction starts a booking at SEARCH_INITIATED.
func NewTransaction(id string, origin, destination Location, now time.Time) (*Transaction, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "transaction id is required")
	}
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}
	return &Transaction{
		ID:          id,
		Phase:       PhaseSearchInitiated,
		Origin:      origin,
		Destination: destination,
		Results:     []Result{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	raw, err := json.Marshal(t)
	if err != nil {
		panic("transaction is not serializable: " + err.Error())
	}
	var out Transaction
	if err := json.Unmarshal(raw, &out); err != nil {
		panic("transaction is not deserializable: " + err.Error())
	}
	return &out
}

// FindResult looks up an offer by provider and item.
func (t *Transaction) FindResult(providerID, itemID string) (Result, bool) {
	for _, r := range t.Results {
		if r.ProviderID == providerID && r.ID == itemID {
			return r, true
		}
	}
	return Result{}, false
}

// MergeResults adds new offers and refreshes known ones in place. It
// returns how many offers were new.
func (t *Transaction) MergeResults(results []Result, now time.Time) (int, error) {
	if t.Phase == PhaseExpired {
		return 0, ErrExpired
	}
	index := make(map[string]int, len(t.Results))
	for i, r := range t.Results {
		index[r.Key()] = i
	}
	added := 0
	for _, r := range results {
		if i, ok := index[r.Key()]; ok {
			t.Results[i] = r
			continue
		}
		index[r.Key()] = len(t.Results)
		t.Results = append(t.Results, r)
		added++
	}
	if len(t.Results) > 0 {
		t.advance(PhaseResultsReceived)
	}
	t.touch("on_search", now)
	return added, nil
}

// CanSelect validates a selection and returns the referenced offer.
func (t *Transaction) CanSelect(providerID, itemID string) (Result, error) {
	item, ok := t.FindResult(providerID, itemID)
	if !ok {
		return Result{}, ErrItemNotFound
	}
	if t.SelectedItem != nil && t.SelectedItem.Key() != item.Key() {
		return Result{}, ErrItemAlreadySelected
	}
	if !t.Phase.CanTransitionTo(PhaseSelectInitiated) {
		return Result{}, ErrInvalidTransition
	}
	return item, nil
}

// ApplySelect records the selection. Call CanSelect first.
func (t *Transaction) ApplySelect(item Result, messageID string, now time.Time) {
	selected := item
	t.SelectedItem = &selected
	t.Phase = PhaseSelectInitiated
	t.LastMessageID = messageID
	t.touch("select", now)
}

// ApplyQuote records the fare returned by on_select.
func (t *Transaction) ApplyQuote(q FareQuote, now time.Time) error {
	if t.SelectedItem == nil {
		return ErrInitWithoutSelection
	}
	if err := t.advanceCallback(PhaseQuoteReceived); err != nil {
		return err
	}
	t.Quote = &q
	t.touch("on_select", now)
	return nil
}

// CanInit validates that init may be sent.
func (t *Transaction) CanInit() error {
	if t.SelectedItem == nil {
		return ErrInitWithoutSelection
	}
	if !t.Phase.CanTransitionTo(PhaseInitInitiated) {
		return ErrInvalidTransition
	}
	return nil
}

// ApplyInit marks init as sent.
func (t *Transaction) ApplyInit(messageID string, now time.Time) {
	t.Phase = PhaseInitInitiated
	t.LastMessageID = messageID
	t.touch("init", now)
}

// ApplyInitOrder records the order skeleton returned by on_init.
func (t *Transaction) ApplyInitOrder(order beckn.Order, now time.Time) error {
	if t.SelectedItem == nil {
		return ErrInitWithoutSelection
	}
	if err := t.advanceCallback(PhaseInitCompleted); err != nil {
		return err
	}
	t.InitOrder = &order
	t.touch("on_init", now)
	return nil
}

// CanConfirm validates that confirm may be sent.
func (t *Transaction) CanConfirm() error {
	if t.InitOrder == nil {
		return ErrConfirmWithoutInit
	}
	if !t.Phase.CanTransitionTo(PhaseConfirmInitiated) {
		return ErrInvalidTransition
	}
	return nil
}

// ApplyConfirm marks confirm as sent.
func (t *Transaction) ApplyConfirm(messageID string, now time.Time) {
	t.Phase = PhaseConfirmInitiated
	t.LastMessageID = messageID
	t.touch("confirm", now)
}

// ApplyConfirmedOrder records the final order returned by on_confirm.
func (t *Transaction) ApplyConfirmedOrder(order beckn.Order, now time.Time) error {
	if t.InitOrder == nil {
		return ErrConfirmWithoutInit
	}
	if err := t.advanceCallback(PhaseConfirmed); err != nil {
		return err
	}
	t.ConfirmedOrder = &order
	t.applyOrderProgress(order)
	t.touch("on_confirm", now)
	return nil
}

// CanFollowUp validates status and cancel, which need a confirmed order.
func (t *Transaction) CanFollowUp() error {
	if t.ConfirmedOrder == nil {
		return ErrNotConfirmed
	}
	return nil
}

// ApplyFollowUp records that status or cancel was sent. The phase is kept:
// follow-ups do not move the booking itself.
func (t *Transaction) ApplyFollowUp(action, messageID string, now time.Time) {
	t.LastMessageID = messageID
	t.touch(action, now)
}

// ApplyStatus merges an on_status or on_cancel order update.
func (t *Transaction) ApplyStatus(action string, order beckn.Order, now time.Time) error {
	if t.ConfirmedOrder == nil {
		return ErrNotConfirmed
	}
	if t.Phase == PhaseExpired {
		return ErrExpired
	}
	if t.Phase.IsError() {
		t.Phase = PhaseConfirmed
	}
	merged := mergeOrder(*t.ConfirmedOrder, order)
	t.ConfirmedOrder = &merged
	t.applyOrderProgress(order)
	if action == "on_cancel" {
		t.setFulfillment(FulfillmentCancelled)
	}
	t.touch(action, now)
	return nil
}

// ApplyError records a counterparty failure for action. The phase moves to
// the matching error phase only when that is reachable; a failure reported
// for a step already passed is kept as LastError alone.
func (t *Transaction) ApplyError(action string, cause CounterpartyError, now time.Time) error {
	phase, ok := ErrorPhaseFor(action)
	if !ok {
		return ErrInvalidTransition
	}
	if t.Phase == PhaseExpired {
		return ErrExpired
	}
	t.advance(phase)
	cause.Action = action
	cause.At = now
	t.LastError = &cause
	t.touch(action, now)
	return nil
}

// Expire moves an in-flight transaction to EXPIRED.
func (t *Transaction) Expire(now time.Time) error {
	if !t.Phase.InFlight() || !t.Phase.CanTransitionTo(PhaseExpired) {
		return ErrInvalidTransition
	}
	t.Phase = PhaseExpired
	t.touch("expire", now)
	return nil
}

// SetDriverLocation records the last known driver position.
func (t *Transaction) SetDriverLocation(loc Location) {
	t.DriverLocation = &loc
}

func (t *Transaction) applyOrderProgress(order beckn.Order) {
	if f, ok := FulfillmentFromNetwork(order.FulfillmentState()); ok {
		t.setFulfillment(f)
	} else if f, ok := FulfillmentFromNetwork(order.OrderState()); ok {
		t.setFulfillment(f)
	}
	if gps, ok := order.AgentLocation(); ok {
		if loc, err := ParseLocation(gps); err == nil {
			t.SetDriverLocation(loc)
		}
	}
}

func (t *Transaction) setFulfillment(next FulfillmentPhase) {
	if t.Fulfillment.CanTransitionTo(next) {
		t.Fulfillment = next
	}
}

// advance moves forward when allowed and otherwise stays put.
func (t *Transaction) advance(next Phase) {
	if t.Phase.CanTransitionTo(next) {
		t.Phase = next
	}
}

// advanceCallback applies a callback-driven transition. A callback for a
// step the transaction has already passed is accepted without moving back.
func (t *Transaction) advanceCallback(next Phase) error {
	if t.Phase == PhaseExpired {
		return ErrExpired
	}
	if t.Phase.CanTransitionTo(next) {
		t.Phase = next
		return nil
	}
	if next.IsBehind(t.Phase) {
		return nil
	}
	return ErrInvalidTransition
}

func (t *Transaction) touch(action string, now time.Time) {
	t.LastAction = action
	t.UpdatedAt = now
}

// mergeOrder overlays the non-empty parts of update on base.
func mergeOrder(base, update beckn.Order) beckn.Order {
	if update.ID != "" {
		base.ID = update.ID
	}
	if update.Status != "" {
		base.Status = update.Status
	}
	if update.State != "" {
		base.State = update.State
	}
	if update.Provider != nil {
		base.Provider = update.Provider
	}
	if len(update.Items) > 0 {
		base.Items = update.Items
	}
	if len(update.Fulfillments) > 0 {
		base.Fulfillments = update.Fulfillments
	}
	if update.Quote != nil {
		base.Quote = update.Quote
	}
	if len(update.Payments) > 0 {
		base.Payments = update.Payments
	}
	if update.Billing != nil {
		base.Billing = update.Billing
	}
	if update.Cancellation != nil {
		base.Cancellation = update.Cancellation
	}
	if update.UpdatedAt != "" {
		base.UpdatedAt = update.UpdatedAt
	}
	return base
}
