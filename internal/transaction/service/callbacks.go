package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/transaction/models"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/sentinel"
)

// Handle routes a verified callback to its handler by context action.
func (s *Service) Handle(ctx context.Context, req beckn.Request) error {
	switch req.Context.Action {
	case beckn.ActionOnSearch:
		return s.OnSearch(ctx, req)
	case beckn.ActionOnSelect:
		return s.OnSelect(ctx, req)
	case beckn.ActionOnInit:
		return s.OnInit(ctx, req)
	case beckn.ActionOnConfirm:
		return s.OnConfirm(ctx, req)
	case beckn.ActionOnStatus, beckn.ActionOnCancel:
		return s.OnStatus(ctx, req)
	default:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unsupported action %q", req.Context.Action))
	}
}

// OnSearch merges one provider's catalog into the transaction. Repeated
// deliveries of the same offer refresh it rather than duplicating it.
func (s *Service) OnSearch(ctx context.Context, req beckn.Request) (err error) {
	ctx, span := s.startSpan(ctx, "OnSearch", req.Context.TransactionID)
	defer func() { endSpan(span, err) }()

	if req.Error != nil {
		return s.applyCallback(ctx, req, nil)
	}
	var msg beckn.OnSearchMessage
	if err := req.Decode(&msg); err != nil {
		return s.rejectCallback(ctx, req, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid on_search message"))
	}

	// Annotation may call out to slow collaborators, so it runs against a
	// snapshot before the transaction is locked.
	snapshot, err := s.store.FindByID(ctx, req.Context.TransactionID)
	if err != nil {
		return s.callbackStoreErr(ctx, req, err)
	}
	results, skipped := resultsFromCatalog(msg.Catalog, req.Context.Counterparty())
	if skipped > 0 {
		s.logger.WarnContext(ctx, "skipped unpriced offers",
			"transaction_id", req.Context.TransactionID,
			"bpp_id", req.Context.BPPID,
			"skipped", skipped,
		)
	}
	s.annotate(ctx, snapshot, results)

	return s.applyCallback(ctx, req, func(t *models.Transaction) error {
		added, err := t.MergeResults(results, s.now(ctx))
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "search results merged",
			"transaction_id", t.ID,
			"bpp_id", req.Context.BPPID,
			"added", added,
			"total", len(t.Results),
		)
		return nil
	})
}

// OnSelect records the quoted fare.
func (s *Service) OnSelect(ctx context.Context, req beckn.Request) (err error) {
	ctx, span := s.startSpan(ctx, "OnSelect", req.Context.TransactionID)
	defer func() { endSpan(span, err) }()

	if req.Error != nil {
		return s.applyCallback(ctx, req, nil)
	}
	order, err := decodeOrder(req)
	if err != nil {
		return s.rejectCallback(ctx, req, err)
	}
	quote, err := fareQuote(order.Quote)
	if err != nil {
		return s.rejectCallback(ctx, req, err)
	}
	return s.applyCallback(ctx, req, func(t *models.Transaction) error {
		return t.ApplyQuote(quote, s.now(ctx))
	})
}

// OnInit records the order skeleton.
func (s *Service) OnInit(ctx context.Context, req beckn.Request) (err error) {
	ctx, span := s.startSpan(ctx, "OnInit", req.Context.TransactionID)
	defer func() { endSpan(span, err) }()

	if req.Error != nil {
		return s.applyCallback(ctx, req, nil)
	}
	order, err := decodeOrder(req)
	if err != nil {
		return s.rejectCallback(ctx, req, err)
	}
	return s.applyCallback(ctx, req, func(t *models.Transaction) error {
		return t.ApplyInitOrder(order, s.now(ctx))
	})
}

// OnConfirm records the booked order.
func (s *Service) OnConfirm(ctx context.Context, req beckn.Request) (err error) {
	ctx, span := s.startSpan(ctx, "OnConfirm", req.Context.TransactionID)
	defer func() { endSpan(span, err) }()

	if req.Error != nil {
		return s.applyCallback(ctx, req, nil)
	}
	order, err := decodeOrder(req)
	if err != nil {
		return s.rejectCallback(ctx, req, err)
	}
	if order.ID == "" {
		return s.rejectCallback(ctx, req, dErrors.New(dErrors.CodeBadRequest, "on_confirm order has no id"))
	}
	return s.applyCallback(ctx, req, func(t *models.Transaction) error {
		return t.ApplyConfirmedOrder(order, s.now(ctx))
	})
}

// OnStatus merges ride progress from on_status and on_cancel.
func (s *Service) OnStatus(ctx context.Context, req beckn.Request) (err error) {
	ctx, span := s.startSpan(ctx, "OnStatus", req.Context.TransactionID)
	defer func() { endSpan(span, err) }()

	if req.Error != nil {
		return s.applyCallback(ctx, req, nil)
	}
	order, err := decodeOrder(req)
	if err != nil {
		return s.rejectCallback(ctx, req, err)
	}
	return s.applyCallback(ctx, req, func(t *models.Transaction) error {
		return t.ApplyStatus(req.Context.Action, order, s.now(ctx))
	})
}

// applyCallback runs apply under the transaction lock and publishes the
// result. A nil apply records the callback's embedded error instead.
func (s *Service) applyCallback(ctx context.Context, req beckn.Request, apply func(*models.Transaction) error) error {
	action := req.Context.Action
	request := beckn.RequestFor(action)
	if apply == nil {
		cause := models.CounterpartyError{
			Type:    req.Error.Type,
			Code:    req.Error.Code,
			Message: req.Error.Message,
		}
		now := s.now(ctx)
		apply = func(t *models.Transaction) error {
			return t.ApplyError(request, cause, now)
		}
	}

	txn, err := s.store.Update(ctx, req.Context.TransactionID, apply)
	if err != nil {
		return s.callbackStoreErr(ctx, req, err)
	}
	s.metrics.IncCallback(action, "applied")
	s.publish(ctx, request, txn)
	return nil
}

func (s *Service) callbackStoreErr(ctx context.Context, req beckn.Request, err error) error {
	action := req.Context.Action
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncCallback(action, "unknown")
		s.logger.WarnContext(ctx, "callback for unknown transaction",
			"transaction_id", req.Context.TransactionID,
			"action", action,
		)
		return ErrUnknownTransaction
	case dErrors.HasCode(err, dErrors.CodePrecondition):
		s.metrics.IncCallback(action, "ignored")
		s.logger.WarnContext(ctx, "callback does not apply",
			"transaction_id", req.Context.TransactionID,
			"action", action,
			"error", err,
		)
		return err
	default:
		s.metrics.IncCallback(action, "failed")
		return wrapStoreErr(err)
	}
}

func (s *Service) rejectCallback(ctx context.Context, req beckn.Request, err error) error {
	s.metrics.IncCallback(req.Context.Action, "rejected")
	s.logger.WarnContext(ctx, "callback rejected",
		"transaction_id", req.Context.TransactionID,
		"action", req.Context.Action,
		"error", err,
	)
	return err
}

func decodeOrder(req beckn.Request) (beckn.Order, error) {
	var msg beckn.OrderMessage
	if err := req.Decode(&msg); err != nil {
		return beckn.Order{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid "+req.Context.Action+" message")
	}
	return msg.Order, nil
}

func fareQuote(q *beckn.Quote) (models.FareQuote, error) {
	if q == nil {
		return models.FareQuote{}, dErrors.New(dErrors.CodeBadRequest, "on_select order has no quote")
	}
	price, err := decimal.NewFromString(q.Price.Value)
	if err != nil {
		return models.FareQuote{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid quote price")
	}
	out := models.FareQuote{Price: price, Currency: q.Price.Currency, TTL: q.TTL}
	for _, line := range q.Breakup {
		amount, err := decimal.NewFromString(line.Price.Value)
		if err != nil {
			return models.FareQuote{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid breakup price")
		}
		out.Breakup = append(out.Breakup, models.FareLine{Title: line.Title, Amount: amount})
	}
	return out, nil
}
