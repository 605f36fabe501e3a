package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/network"
	"mobility-bap/internal/registry"
	"mobility-bap/internal/transaction/models"
	"mobility-bap/pkg/domain"
	dErrors "mobility-bap/pkg/domain-errors"
)

// Search starts a transaction and broadcasts the ride intent through the
// gateway. Results arrive asynchronously through OnSearch.
func (s *Service) Search(ctx context.Context, origin, destination models.Location) (txnID string, err error) {
	ctx, span := s.startSpan(ctx, "Search", "")
	defer func() { endSpan(span, err) }()

	now := s.now(ctx)
	txn, err := models.NewTransaction(domain.NewTransactionID().String(), origin, destination, now)
	if err != nil {
		return "", err
	}
	target := ""
	if s.mock == nil {
		target, err = s.gateway.ResolveGateway(ctx)
		if err != nil {
			if errors.Is(err, registry.ErrNoGatewayAvailable) {
				return "", dErrors.Wrap(err, dErrors.CodeUpstream, "no gateway available")
			}
			return "", err
		}
	}

	msgID := domain.NewMessageID().String()
	signed, err := s.network.Prepare(beckn.ActionSearch, beckn.Outbound[beckn.SearchMessage]{
		Context: s.participant.NewContext(beckn.ActionSearch, txn.ID, msgID, nil, now),
		Message: searchIntent(origin, destination),
	})
	if err != nil {
		return "", err
	}

	txn.LastAction = beckn.ActionSearch
	txn.LastMessageID = msgID
	if err := s.store.Create(ctx, txn); err != nil {
		return "", wrapStoreErr(err)
	}
	s.metrics.IncTransactions()
	s.logger.InfoContext(ctx, "search started",
		"transaction_id", txn.ID,
		"message_id", msgID,
	)

	if err := s.deliver(ctx, txn.ID, msgID, target, signed); err != nil {
		return "", err
	}
	return txn.ID, nil
}

// Select sends the chosen offer to the provider that made it.
func (s *Service) Select(ctx context.Context, transactionID, providerID, itemID string) (msgID string, err error) {
	ctx, span := s.startSpan(ctx, "Select", transactionID)
	defer func() { endSpan(span, err) }()

	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}
	item, err := txn.CanSelect(providerID, itemID)
	if err != nil {
		return "", err
	}

	now := s.now(ctx)
	msgID = domain.NewMessageID().String()
	signed, err := s.network.Prepare(beckn.ActionSelect, beckn.Outbound[beckn.OrderMessage]{
		Context: s.participant.NewContext(beckn.ActionSelect, txn.ID, msgID, item.Counterparty(), now),
		Message: beckn.OrderMessage{Order: selectOrder(txn, item)},
	})
	if err != nil {
		return "", err
	}

	_, err = s.store.Update(ctx, txn.ID, func(t *models.Transaction) error {
		current, err := t.CanSelect(providerID, itemID)
		if err != nil {
			return err
		}
		t.ApplySelect(current, msgID, now)
		return nil
	})
	if err != nil {
		return "", wrapStoreErr(err)
	}
	return msgID, s.deliver(ctx, txn.ID, msgID, item.BPPURI, signed)
}

// Init asks the provider for the order skeleton of the selected offer.
func (s *Service) Init(ctx context.Context, transactionID string, billing beckn.Billing) (msgID string, err error) {
	ctx, span := s.startSpan(ctx, "Init", transactionID)
	defer func() { endSpan(span, err) }()

	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if err := txn.CanInit(); err != nil {
		return "", err
	}

	now := s.now(ctx)
	msgID = domain.NewMessageID().String()
	item := *txn.SelectedItem
	signed, err := s.network.Prepare(beckn.ActionInit, beckn.Outbound[beckn.OrderMessage]{
		Context: s.participant.NewContext(beckn.ActionInit, txn.ID, msgID, item.Counterparty(), now),
		Message: beckn.OrderMessage{Order: initOrder(txn, item, billing)},
	})
	if err != nil {
		return "", err
	}

	_, err = s.store.Update(ctx, txn.ID, func(t *models.Transaction) error {
		if err := t.CanInit(); err != nil {
			return err
		}
		t.ApplyInit(msgID, now)
		return nil
	})
	if err != nil {
		return "", wrapStoreErr(err)
	}
	return msgID, s.deliver(ctx, txn.ID, msgID, item.BPPURI, signed)
}

// Confirm books the initialized order with its payment terms.
func (s *Service) Confirm(ctx context.Context, transactionID string) (msgID string, err error) {
	ctx, span := s.startSpan(ctx, "Confirm", transactionID)
	defer func() { endSpan(span, err) }()

	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if err := txn.CanConfirm(); err != nil {
		return "", err
	}

	now := s.now(ctx)
	msgID = domain.NewMessageID().String()
	item := *txn.SelectedItem
	signed, err := s.network.Prepare(beckn.ActionConfirm, beckn.Outbound[beckn.OrderMessage]{
		Context: s.participant.NewContext(beckn.ActionConfirm, txn.ID, msgID, item.Counterparty(), now),
		Message: beckn.OrderMessage{Order: confirmOrder(txn)},
	})
	if err != nil {
		return "", err
	}

	_, err = s.store.Update(ctx, txn.ID, func(t *models.Transaction) error {
		if err := t.CanConfirm(); err != nil {
			return err
		}
		t.ApplyConfirm(msgID, now)
		return nil
	})
	if err != nil {
		return "", wrapStoreErr(err)
	}
	return msgID, s.deliver(ctx, txn.ID, msgID, item.BPPURI, signed)
}

// Status polls the provider for the confirmed order.
func (s *Service) Status(ctx context.Context, transactionID string) (msgID string, err error) {
	ctx, span := s.startSpan(ctx, "Status", transactionID)
	defer func() { endSpan(span, err) }()

	return s.followUp(ctx, transactionID, beckn.ActionStatus, func(orderID string) any {
		return beckn.StatusMessage{OrderID: orderID}
	})
}

// Cancel asks the provider to cancel the confirmed order.
func (s *Service) Cancel(ctx context.Context, transactionID, reasonCode string) (msgID string, err error) {
	ctx, span := s.startSpan(ctx, "Cancel", transactionID)
	defer func() { endSpan(span, err) }()

	reasonCode = strings.TrimSpace(reasonCode)
	if reasonCode == "" {
		return "", dErrors.New(dErrors.CodeValidation, "cancellation reason is required")
	}
	return s.followUp(ctx, transactionID, beckn.ActionCancel, func(orderID string) any {
		return beckn.CancelMessage{
			OrderID:              orderID,
			CancellationReasonID: reasonCode,
			Descriptor:           &beckn.Descriptor{Code: "CONFIRM_CANCEL"},
		}
	})
}

func (s *Service) followUp(ctx context.Context, transactionID, action string, message func(orderID string) any) (string, error) {
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if err := txn.CanFollowUp(); err != nil {
		return "", err
	}

	now := s.now(ctx)
	msgID := domain.NewMessageID().String()
	item := *txn.SelectedItem
	signed, err := s.network.Prepare(action, beckn.Outbound[any]{
		Context: s.participant.NewContext(action, txn.ID, msgID, item.Counterparty(), now),
		Message: message(txn.ConfirmedOrder.ID),
	})
	if err != nil {
		return "", err
	}

	_, err = s.store.Update(ctx, txn.ID, func(t *models.Transaction) error {
		if err := t.CanFollowUp(); err != nil {
			return err
		}
		t.ApplyFollowUp(action, msgID, now)
		return nil
	})
	if err != nil {
		return "", wrapStoreErr(err)
	}
	return msgID, s.deliver(ctx, txn.ID, msgID, item.BPPURI, signed)
}

// deliver audits the signed message and hands it to the network, or to the
// mock responder when one is configured.
func (s *Service) deliver(ctx context.Context, transactionID, msgID, target string, signed network.Signed) error {
	s.audit.Record(ctx, audit.Entry{
		TransactionID: transactionID,
		MessageID:     msgID,
		Action:        signed.Action,
		Direction:     audit.DirectionOutbound,
		Source:        s.participant.SubscriberURI,
		Destination:   target,
		Payload:       json.RawMessage(signed.Body),
		Headers: map[string]string{
			"Authorization": signed.Authorization,
			"Content-Type":  "application/json",
		},
		Status: "SENT",
	})

	if s.mock != nil {
		return s.scheduleMock(ctx, signed)
	}

	ack, err := s.network.Send(ctx, target, signed)
	s.recordAck(ctx, transactionID, msgID, signed.Action, target, ack, err)
	if err != nil {
		s.failOutbound(ctx, transactionID, signed.Action, err)
		return err
	}
	return nil
}

// recordAck stores the synchronous answer so the export pairs it with the
// request.
func (s *Service) recordAck(ctx context.Context, transactionID, msgID, action, target string, ack beckn.AckResponse, sendErr error) {
	status := ack.Message.Ack.Status
	if status == "" {
		status = "ERROR"
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		payload = nil
	}
	entry := audit.Entry{
		TransactionID: transactionID,
		MessageID:     msgID,
		Action:        action,
		Direction:     audit.DirectionInbound,
		Source:        target,
		Destination:   s.participant.SubscriberURI,
		Payload:       payload,
		Status:        status,
	}
	if sendErr != nil && status == "ERROR" {
		entry.Headers = map[string]string{"X-Dispatch-Error": sendErr.Error()}
	}
	s.audit.Record(ctx, entry)
}

// failOutbound moves the transaction to the error phase of action after a
// transport failure or NACK.
func (s *Service) failOutbound(ctx context.Context, transactionID, action string, sendErr error) {
	cause := models.CounterpartyError{Type: "DISPATCH", Code: "UNREACHABLE", Message: sendErr.Error()}
	if nack, ok := network.AsNack(sendErr); ok {
		cause.Type = "NACK"
		cause.Code = strconv.Itoa(nack.Status)
		if nack.Reason != nil {
			cause.Type = nack.Reason.Type
			cause.Code = nack.Reason.Code
			cause.Message = nack.Reason.Message
		}
	}
	now := s.now(ctx)
	txn, err := s.store.Update(ctx, transactionID, func(t *models.Transaction) error {
		return t.ApplyError(action, cause, now)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record dispatch failure",
			"transaction_id", transactionID,
			"action", action,
			"error", err,
		)
		return
	}
	s.logger.WarnContext(ctx, "dispatch failed",
		"transaction_id", transactionID,
		"action", action,
		"code", cause.Code,
		"error", sendErr,
	)
	s.publish(ctx, action, txn)
}

func searchIntent(origin, destination models.Location) beckn.SearchMessage {
	return beckn.SearchMessage{Intent: beckn.Intent{
		Fulfillment: &beckn.Fulfillment{
			Stops: []beckn.Stop{
				{Type: beckn.StopStart, Location: beckn.Location{GPS: origin.GPS()}},
				{Type: beckn.StopEnd, Location: beckn.Location{GPS: destination.GPS()}},
			},
		},
		Payment: &beckn.Payment{
			CollectedBy: "BPP",
			Tags:        []beckn.TagGroup{buyerFinderFeeTags()},
		},
	}}
}

func selectOrder(txn *models.Transaction, item models.Result) beckn.Order {
	order := beckn.Order{
		Provider: &beckn.Provider{ID: item.ProviderID},
		Items: []beckn.Item{{
			ID:    item.ID,
			Price: &beckn.Price{Currency: item.Currency, Value: item.Price.StringFixed(2)},
		}},
		Fulfillments: []beckn.Fulfillment{rideFulfillment(txn, item)},
	}
	return order
}

func initOrder(txn *models.Transaction, item models.Result, billing beckn.Billing) beckn.Order {
	order := selectOrder(txn, item)
	order.Billing = &billing
	if billing.Name != "" || billing.Phone != "" {
		order.Fulfillments[0].Customer = &beckn.Customer{
			Person:  &beckn.Person{Name: billing.Name},
			Contact: &beckn.Contact{Phone: billing.Phone},
		}
	}
	order.Payments = []beckn.Payment{paymentTerms(txn)}
	return order
}

func confirmOrder(txn *models.Transaction) beckn.Order {
	order := *txn.InitOrder
	if len(order.Items) == 0 {
		order.Items = []beckn.Item{{ID: txn.SelectedItem.ID}}
	}
	if order.Provider == nil {
		order.Provider = &beckn.Provider{ID: txn.SelectedItem.ProviderID}
	}
	if len(order.Fulfillments) == 0 {
		order.Fulfillments = []beckn.Fulfillment{rideFulfillment(txn, *txn.SelectedItem)}
	}
	order.Payments = []beckn.Payment{paymentTerms(txn)}
	return order
}

func rideFulfillment(txn *models.Transaction, item models.Result) beckn.Fulfillment {
	return beckn.Fulfillment{
		ID: item.FulfillmentID,
		Stops: []beckn.Stop{
			{Type: beckn.StopStart, Location: beckn.Location{GPS: txn.Origin.GPS()}},
			{Type: beckn.StopEnd, Location: beckn.Location{GPS: txn.Destination.GPS()}},
		},
	}
}

// paymentTerms states that the provider collects on fulfillment and settles
// with the finder fee withheld.
func paymentTerms(txn *models.Transaction) beckn.Payment {
	price, currency := txn.SelectedItem.Price, txn.SelectedItem.Currency
	if txn.Quote != nil {
		price, currency = txn.Quote.Price, txn.Quote.Currency
	}
	return beckn.Payment{
		CollectedBy: "BPP",
		Status:      "NOT-PAID",
		Type:        "ON-FULFILLMENT",
		Params: &beckn.PaymentParams{
			Amount:   price.StringFixed(2),
			Currency: currency,
		},
		Tags: []beckn.TagGroup{
			buyerFinderFeeTags(),
			{
				Descriptor: beckn.Descriptor{Code: "SETTLEMENT_TERMS"},
				List: []beckn.Tag{
					{Descriptor: beckn.Descriptor{Code: "SETTLEMENT_WINDOW"}, Value: "PT60M"},
					{Descriptor: beckn.Descriptor{Code: "SETTLEMENT_BASIS"}, Value: "DELIVERY"},
					{Descriptor: beckn.Descriptor{Code: "MANDATORY_ARBITRATION"}, Value: "true"},
					{Descriptor: beckn.Descriptor{Code: "COURT_JURISDICTION"}, Value: "New Delhi"},
				},
			},
		},
	}
}

func buyerFinderFeeTags() beckn.TagGroup {
	return beckn.TagGroup{
		Descriptor: beckn.Descriptor{Code: "BUYER_FINDER_FEES"},
		List: []beckn.Tag{
			{Descriptor: beckn.Descriptor{Code: "BUYER_FINDER_FEES_PERCENTAGE"}, Value: "1"},
		},
	}
}
