// Package execapi implements the execution engine's gRPC surface, per
// spec §6: CheckConstraints, SubmitOrders, GetOrderState, CancelOrders. It
// is the driver-side adapter wiring internal/risk, internal/orders, and
// internal/broker together the same way internal/proxy wires the registry
// and hub for the multiplexer side — no business logic of its own beyond
// translating wire requests into calls on those packages.
package execapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ccheney/cream-trading-backbone/internal/broker"
	"github.com/ccheney/cream-trading-backbone/internal/orders"
	"github.com/ccheney/cream-trading-backbone/internal/persistence"
	"github.com/ccheney/cream-trading-backbone/internal/risk"
	"github.com/ccheney/cream-trading-backbone/pkg/rpcwire"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// RiskContextProvider supplies the live positions/buying-power/Greeks
// snapshot the risk validator needs; cmd/execengine wires this to whatever
// tracks live account state.
type RiskContextProvider interface {
	RiskContext() types.RiskContext
}

// Service implements rpcwire.ExecutionServer.
type Service struct {
	Policy   types.RiskPolicy
	Context  RiskContextProvider
	Machine  *orders.Machine
	Broker   *broker.Adapter
	Store    *persistence.Store
	Logger   *slog.Logger
}

func New(policy types.RiskPolicy, ctxProvider RiskContextProvider, machine *orders.Machine, brokerAdapter *broker.Adapter, store *persistence.Store) *Service {
	return &Service{
		Policy:  policy,
		Context: ctxProvider,
		Machine: machine,
		Broker:  brokerAdapter,
		Store:   store,
		Logger:  slog.Default().With("component", "execapi"),
	}
}

// CheckConstraints runs the risk validator without submitting anything.
func (s *Service) CheckConstraints(ctx context.Context, req *rpcwire.DecisionBatch) (*rpcwire.ConstraintResult, error) {
	batch := rpcwire.ToDecisionBatch(req)
	result := risk.Validate(s.Policy, s.Context.RiskContext(), batch)
	return rpcwire.FromConstraintResult(result), nil
}

// SubmitOrders validates the batch, then creates and submits every
// decision that passes, per spec's data flow: decision → risk validator →
// state machine (create) → broker adapter (submit) → state machine
// (transition on ack).
func (s *Service) SubmitOrders(ctx context.Context, req *rpcwire.DecisionBatch) (*rpcwire.ExecutionAck, error) {
	batch := rpcwire.ToDecisionBatch(req)
	result := risk.Validate(s.Policy, s.Context.RiskContext(), batch)

	ack := &rpcwire.ExecutionAck{}
	rejectedIdx := make(map[int]rpcwire.RejectedDecision)
	var batchLevel *rpcwire.RejectedDecision
	for _, v := range result.Violations {
		if v.Severity != types.SeverityError && v.Severity != types.SeverityCritical {
			continue
		}
		// DecisionIndex -1 marks a batch-level finding (buying power,
		// portfolio gross/net caps) that blocks every decision in the
		// batch, not just one.
		if v.DecisionIndex < 0 {
			if batchLevel == nil {
				batchLevel = &rpcwire.RejectedDecision{DecisionIndex: -1, Code: v.Code, Message: v.Message}
			}
			continue
		}
		if _, already := rejectedIdx[v.DecisionIndex]; !already {
			rejectedIdx[v.DecisionIndex] = rpcwire.RejectedDecision{
				DecisionIndex: v.DecisionIndex, Code: v.Code, Message: v.Message,
			}
		}
	}

	if batchLevel != nil {
		for i := range batch.Decisions {
			ack.Rejected = append(ack.Rejected, rpcwire.RejectedDecision{
				DecisionIndex: i, Code: batchLevel.Code, Message: batchLevel.Message,
			})
		}
		return ack, nil
	}

	for i, d := range batch.Decisions {
		if rej, blocked := rejectedIdx[i]; blocked {
			ack.Rejected = append(ack.Rejected, rej)
			continue
		}

		orderID := uuid.NewString()
		order := &types.Order{
			OrderID:  orderID,
			Symbol:   d.Symbol,
			Side:     d.Side,
			Type:     d.Type,
			TIF:      d.TIF,
			Quantity: d.Quantity,
			LimitPrice: d.LimitPrice,
			StopPrice:  d.StopPrice,
			Purpose:    d.Purpose,
		}
		if err := s.Machine.Create(order); err != nil {
			ack.Rejected = append(ack.Rejected, rpcwire.RejectedDecision{
				DecisionIndex: i, Code: "CREATE_FAILED", Message: err.Error(),
			})
			continue
		}
		if err := s.persistSnapshot(ctx, orderID); err != nil {
			s.Logger.Error("persist snapshot after create", "order_id", orderID, "error", err)
		}

		submitReq := broker.SubmitRequest{
			OrderID: orderID, Symbol: d.Symbol, Side: d.Side, Type: d.Type, TIF: d.TIF,
			Quantity: d.Quantity.String(), Environment: s.Broker.Environment,
		}
		if d.LimitPrice != nil {
			submitReq.LimitPrice = d.LimitPrice.String()
		}
		if d.StopPrice != nil {
			submitReq.StopPrice = d.StopPrice.String()
		}

		brokerAck, err := s.Broker.Submit(ctx, submitReq)
		if err != nil {
			_ = s.Machine.Apply(orderID, orders.Event{Kind: orders.EvReject, Reason: err.Error()})
			ack.Rejected = append(ack.Rejected, rpcwire.RejectedDecision{
				DecisionIndex: i, Code: "SUBMIT_FAILED", Message: err.Error(),
			})
			continue
		}

		if err := s.Machine.Apply(orderID, orders.Event{Kind: orders.EvAck, BrokerID: brokerAck.BrokerID}); err != nil {
			s.Logger.Error("apply ack event", "order_id", orderID, "error", err)
		}
		if err := s.persistSnapshot(ctx, orderID); err != nil {
			s.Logger.Error("persist snapshot after ack", "order_id", orderID, "error", err)
		}
		ack.OrderIDs = append(ack.OrderIDs, orderID)
	}

	return ack, nil
}

func (s *Service) persistSnapshot(ctx context.Context, orderID string) error {
	snap, ok := s.Machine.Get(orderID)
	if !ok {
		return fmt.Errorf("execapi: order %s vanished before persist", orderID)
	}
	return s.Store.SaveOrderSnapshot(ctx, snap)
}

// GetOrderState returns the current machine-tracked snapshot for each
// requested order id.
func (s *Service) GetOrderState(ctx context.Context, req *rpcwire.OrderIDList) (*rpcwire.OrderSnapshotList, error) {
	snaps := make([]types.OrderSnapshot, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		if snap, ok := s.Machine.Get(id); ok {
			snaps = append(snaps, snap)
		}
	}
	return rpcwire.FromOrderSnapshots(snaps), nil
}

// CancelOrders requests cancellation of each order both locally and at the
// broker; a missing or already-terminal order yields a non-retryable
// CancelResult rather than an RPC-level error.
func (s *Service) CancelOrders(ctx context.Context, req *rpcwire.CancelRequest) (*rpcwire.CancelResultList, error) {
	out := &rpcwire.CancelResultList{}
	for _, id := range req.OrderIDs {
		snap, ok := s.Machine.Get(id)
		if !ok {
			out.Results = append(out.Results, rpcwire.CancelResult{
				OrderID: id, Canceled: false, Code: "NOT_FOUND", Message: "unknown order", Retryable: false,
			})
			continue
		}
		if snap.Status.IsTerminal() {
			out.Results = append(out.Results, rpcwire.CancelResult{
				OrderID: id, Canceled: false, Code: "ALREADY_TERMINAL", Message: string(snap.Status), Retryable: false,
			})
			continue
		}

		if err := s.Machine.Apply(id, orders.Event{Kind: orders.EvCancelRequest}); err != nil {
			out.Results = append(out.Results, rpcwire.CancelResult{
				OrderID: id, Canceled: false, Code: "ILLEGAL_TRANSITION", Message: err.Error(), Retryable: false,
			})
			continue
		}

		if snap.BrokerID != "" {
			if err := s.Broker.Cancel(ctx, snap.BrokerID); err != nil {
				out.Results = append(out.Results, rpcwire.CancelResult{
					OrderID: id, Canceled: false, Code: "BROKER_CANCEL_FAILED", Message: err.Error(), Retryable: true,
				})
				continue
			}
		}

		if err := s.Machine.Apply(id, orders.Event{Kind: orders.EvCanceled, Reason: req.Reason}); err != nil {
			s.Logger.Error("apply canceled event", "order_id", id, "error", err)
		}
		if err := s.persistSnapshot(ctx, id); err != nil {
			s.Logger.Error("persist snapshot after cancel", "order_id", id, "error", err)
		}
		out.Results = append(out.Results, rpcwire.CancelResult{OrderID: id, Canceled: true})
	}
	return out, nil
}
