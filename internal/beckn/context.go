package beckn

import "time"

// Participant identifies this node on the network.
type Participant struct {
	SubscriberID  string
	SubscriberURI string
	Domain        string
	Country       string
	City          string
	CoreVersion   string
	TTL           string
}

// Counterparty is a provider-side participant addressed after search.
type Counterparty struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// NewContext builds a mobility domain context. counterparty may be nil for
// broadcast actions.
func (p Participant) NewContext(action, transactionID, messageID string, counterparty *Counterparty, now time.Time) Context {
	ttl := p.TTL
	if ttl == "" {
		ttl = "PT30S"
	}
	ctx := Context{
		Domain: p.Domain,
		Location: &ContextLocation{
			Country: Code{Code: p.Country},
			City:    Code{Code: p.City},
		},
		Action:        action,
		Version:       p.CoreVersion,
		BAPID:         p.SubscriberID,
		BAPURI:        p.SubscriberURI,
		TransactionID: transactionID,
		MessageID:     messageID,
		Timestamp:     FormatTimestamp(now),
		TTL:           ttl,
	}
	if counterparty != nil {
		ctx.BPPID = counterparty.ID
		ctx.BPPURI = counterparty.URI
	}
	return ctx
}

// NewIGMContext builds the flat context used by the grievance and
// settlement sub-protocols.
func (p Participant) NewIGMContext(action, transactionID, messageID string, counterparty *Counterparty, now time.Time) Context {
	ctx := Context{
		Domain:        p.Domain,
		Country:       p.Country,
		City:          p.City,
		Action:        action,
		CoreVersion:   "1.0.0",
		BAPID:         p.SubscriberID,
		BAPURI:        p.SubscriberURI,
		TransactionID: transactionID,
		MessageID:     messageID,
		Timestamp:     FormatTimestamp(now),
		TTL:           "PT30S",
	}
	if counterparty != nil {
		ctx.BPPID = counterparty.ID
		ctx.BPPURI = counterparty.URI
	}
	return ctx
}

// Counterparty returns the provider addressed in a callback context.
func (c Context) Counterparty() Counterparty {
	return Counterparty{ID: c.BPPID, URI: c.BPPURI}
}
