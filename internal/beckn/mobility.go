package beckn

import (
	"fmt"
	"strconv"
	"strings"
)

// Stop types.
const (
	StopStart = "START"
	StopEnd   = "END"
)

// Descriptor names or codes an object.
type Descriptor struct {
	Name      string `json:"name,omitempty"`
	Code      string `json:"code,omitempty"`
	ShortDesc string `json:"short_desc,omitempty"`
	LongDesc  string `json:"long_desc,omitempty"`
}

// Location is a point on the map in "lat, lng" form.
type Location struct {
	GPS     string `json:"gps"`
	Address string `json:"address,omitempty"`
}

// FormatGPS renders coordinates the way the network expects.
func FormatGPS(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + ", " + strconv.FormatFloat(lng, 'f', 6, 64)
}

// ParseGPS parses a "lat, lng" string.
func ParseGPS(gps string) (lat, lng float64, err error) {
	parts := strings.Split(gps, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("gps %q: expected \"lat, lng\"", gps)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("gps %q: latitude: %w", gps, err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("gps %q: longitude: %w", gps, err)
	}
	return lat, lng, nil
}

// Stop is a pickup or drop point of a fulfillment.
type Stop struct {
	Type     string   `json:"type"`
	Location Location `json:"location"`
}

// Vehicle describes the ride vehicle.
type Vehicle struct {
	Category     string `json:"category,omitempty"`
	Variant      string `json:"variant,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Registration string `json:"registration,omitempty"`
}

// Person names a human participant.
type Person struct {
	Name string `json:"name,omitempty"`
}

// Contact holds reachability details.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Agent is the driver assigned to a fulfillment.
type Agent struct {
	Person   *Person   `json:"person,omitempty"`
	Contact  *Contact  `json:"contact,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Customer is the rider.
type Customer struct {
	Person  *Person  `json:"person,omitempty"`
	Contact *Contact `json:"contact,omitempty"`
}

// State carries a fulfillment or order state code.
type State struct {
	Descriptor Descriptor `json:"descriptor"`
}

// Fulfillment describes how a ride is delivered.
type Fulfillment struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	State    *State     `json:"state,omitempty"`
	Stops    []Stop     `json:"stops,omitempty"`
	Vehicle  *Vehicle   `json:"vehicle,omitempty"`
	Agent    *Agent     `json:"agent,omitempty"`
	Customer *Customer  `json:"customer,omitempty"`
	Tags     []TagGroup `json:"tags,omitempty"`
}

// Price is a monetary value. Values travel as decimal strings.
type Price struct {
	Currency     string `json:"currency"`
	Value        string `json:"value"`
	MinimumValue string `json:"minimum_value,omitempty"`
	MaximumValue string `json:"maximum_value,omitempty"`
}

// Tag is one code/value pair inside a TagGroup.
type Tag struct {
	Descriptor Descriptor `json:"descriptor"`
	Value      string     `json:"value"`
}

// TagGroup is a named list of tags.
type TagGroup struct {
	Descriptor Descriptor `json:"descriptor"`
	Display    bool       `json:"display"`
	List       []Tag      `json:"list"`
}

// Item is a bookable ride offer.
type Item struct {
	ID             string      `json:"id"`
	Descriptor     *Descriptor `json:"descriptor,omitempty"`
	Price          *Price      `json:"price,omitempty"`
	FulfillmentIDs []string    `json:"fulfillment_ids,omitempty"`
	PaymentIDs     []string    `json:"payment_ids,omitempty"`
	Tags           []TagGroup  `json:"tags,omitempty"`
}

// Provider is a ride operator answering a search.
type Provider struct {
	ID           string        `json:"id"`
	Descriptor   *Descriptor   `json:"descriptor,omitempty"`
	Items        []Item        `json:"items,omitempty"`
	Fulfillments []Fulfillment `json:"fulfillments,omitempty"`
	Payments     []Payment     `json:"payments,omitempty"`
}

// Catalog is the body of on_search.
type Catalog struct {
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	Providers  []Provider  `json:"providers"`
}

// Breakup is one line of a quote.
type Breakup struct {
	Title string `json:"title"`
	Price Price  `json:"price"`
}

// Quote is a fare with its breakup.
type Quote struct {
	Price   Price     `json:"price"`
	Breakup []Breakup `json:"breakup,omitempty"`
	TTL     string    `json:"ttl,omitempty"`
}

// PaymentParams carries collection details.
type PaymentParams struct {
	BankCode              string `json:"bank_code,omitempty"`
	BankAccountNumber     string `json:"bank_account_number,omitempty"`
	VirtualPaymentAddress string `json:"virtual_payment_address,omitempty"`
	TransactionID         string `json:"transaction_id,omitempty"`
	Amount                string `json:"amount,omitempty"`
	Currency              string `json:"currency,omitempty"`
}

// Payment describes who collects and how settlement happens.
type Payment struct {
	ID          string         `json:"id,omitempty"`
	CollectedBy string         `json:"collected_by,omitempty"`
	Status      string         `json:"status,omitempty"`
	Type        string         `json:"type,omitempty"`
	Params      *PaymentParams `json:"params,omitempty"`
	Tags        []TagGroup     `json:"tags,omitempty"`
}

// Billing identifies who pays.
type Billing struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Cancellation records who cancelled and why.
type Cancellation struct {
	CancelledBy string      `json:"cancelled_by,omitempty"`
	Reason      *Descriptor `json:"reason,omitempty"`
}

// Order is the object negotiated through select/init/confirm.
type Order struct {
	ID           string        `json:"id,omitempty"`
	Status       string        `json:"status,omitempty"`
	State        string        `json:"state,omitempty"`
	Provider     *Provider     `json:"provider,omitempty"`
	Items        []Item        `json:"items,omitempty"`
	Fulfillments []Fulfillment `json:"fulfillments,omitempty"`
	Quote        *Quote        `json:"quote,omitempty"`
	Payments     []Payment     `json:"payments,omitempty"`
	Billing      *Billing      `json:"billing,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
	CreatedAt    string        `json:"created_at,omitempty"`
	UpdatedAt    string        `json:"updated_at,omitempty"`
}

// Intent is the body of search.
type Intent struct {
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
	Payment     *Payment     `json:"payment,omitempty"`
	Tags        []TagGroup   `json:"tags,omitempty"`
}

// SearchMessage is sent to the gateway.
type SearchMessage struct {
	Intent Intent `json:"intent"`
}

// OnSearchMessage is one provider's catalog.
type OnSearchMessage struct {
	Catalog Catalog `json:"catalog"`
}

// OrderMessage is the body of select, init, confirm and their callbacks,
// and of on_status and on_cancel.
type OrderMessage struct {
	Order Order `json:"order"`
}

// StatusMessage polls an order.
type StatusMessage struct {
	OrderID string `json:"order_id"`
}

// CancelMessage cancels a confirmed order.
type CancelMessage struct {
	OrderID              string      `json:"order_id"`
	CancellationReasonID string      `json:"cancellation_reason_id"`
	Descriptor           *Descriptor `json:"descriptor,omitempty"`
}

// OrderState returns the order status under either field name.
func (o Order) OrderState() string {
	if o.Status != "" {
		return o.Status
	}
	return o.State
}

// FulfillmentState returns the state code of the first fulfillment, if any.
func (o Order) FulfillmentState() string {
	for _, f := range o.Fulfillments {
		if f.State != nil && f.State.Descriptor.Code != "" {
			return f.State.Descriptor.Code
		}
	}
	return ""
}

// AgentLocation returns the first agent GPS reported in the order.
func (o Order) AgentLocation() (string, bool) {
	for _, f := range o.Fulfillments {
		if f.Agent != nil && f.Agent.Location != nil && f.Agent.Location.GPS != "" {
			return f.Agent.Location.GPS, true
		}
	}
	return "", false
}

// TagValue looks up code inside group.
func TagValue(groups []TagGroup, group, code string) (string, bool) {
	for _, g := range groups {
		if g.Descriptor.Code != group {
			continue
		}
		for _, t := range g.List {
			if t.Descriptor.Code == code {
				return t.Value, true
			}
		}
	}
	return "", false
}
