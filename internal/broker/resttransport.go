package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ccheney/cream-trading-backbone/internal/ratelimit"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// RestTransport is the production Transport, adapted from the teacher's
// resty-based exchange client (internal/exchange/client.go): a shared
// *resty.Client, a pre-request token-bucket wait, and 5xx/429 mapped to a
// retryable TransportError honoring Retry-After.
type RestTransport struct {
	client  *resty.Client
	limiter *ratelimit.TokenBucket
}

func NewRestTransport(baseURL, apiKey, apiSecret string, limiter *ratelimit.TokenBucket) *RestTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("APCA-API-KEY-ID", apiKey).
		SetHeader("APCA-API-SECRET-KEY", apiSecret).
		SetTimeout(10 * time.Second)

	return &RestTransport{client: client, limiter: limiter}
}

func (t *RestTransport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *RestTransport) Submit(ctx context.Context, req SubmitRequest) (OrderAck, error) {
	if err := t.wait(ctx); err != nil {
		return OrderAck{}, err
	}

	var ack OrderAck
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"symbol":      string(req.Symbol),
			"side":        string(req.Side),
			"type":        string(req.Type),
			"time_in_force": string(req.TIF),
			"qty":         req.Quantity,
			"limit_price": req.LimitPrice,
			"stop_price":  req.StopPrice,
			"client_order_id": req.OrderID,
		}).
		SetResult(&ack).
		Post("/v2/orders")
	if err != nil {
		return OrderAck{}, &TransportError{Err: err, Retryable: true}
	}
	if terr := classify(resp); terr != nil {
		return OrderAck{}, terr
	}
	return ack, nil
}

func (t *RestTransport) GetStatus(ctx context.Context, brokerID string) (types.OrderSnapshot, error) {
	if err := t.wait(ctx); err != nil {
		return types.OrderSnapshot{}, err
	}
	var snap types.OrderSnapshot
	resp, err := t.client.R().SetContext(ctx).SetResult(&snap).Get("/v2/orders/" + brokerID)
	if err != nil {
		return types.OrderSnapshot{}, &TransportError{Err: err, Retryable: true}
	}
	if terr := classify(resp); terr != nil {
		return types.OrderSnapshot{}, terr
	}
	return snap, nil
}

func (t *RestTransport) Cancel(ctx context.Context, brokerID string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	resp, err := t.client.R().SetContext(ctx).Delete("/v2/orders/" + brokerID)
	if err != nil {
		return &TransportError{Err: err, Retryable: true}
	}
	return classify(resp)
}

func (t *RestTransport) ListOpen(ctx context.Context) ([]types.OrderSnapshot, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	var snaps []types.OrderSnapshot
	resp, err := t.client.R().SetContext(ctx).SetQueryParam("status", "open").SetResult(&snaps).Get("/v2/orders")
	if err != nil {
		return nil, &TransportError{Err: err, Retryable: true}
	}
	if terr := classify(resp); terr != nil {
		return nil, terr
	}
	return snaps, nil
}

func (t *RestTransport) ListPositions(ctx context.Context) ([]types.PositionSnapshot, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	var positions []types.PositionSnapshot
	resp, err := t.client.R().SetContext(ctx).SetResult(&positions).Get("/v2/positions")
	if err != nil {
		return nil, &TransportError{Err: err, Retryable: true}
	}
	if terr := classify(resp); terr != nil {
		return nil, terr
	}
	return positions, nil
}

func (t *RestTransport) HealthCheck(ctx context.Context) error {
	resp, err := t.client.R().SetContext(ctx).Get("/v2/account")
	if err != nil {
		return &TransportError{Err: err, Retryable: true}
	}
	return classify(resp)
}

// classify maps an HTTP response to the spec's retryable/non-retryable
// split: network errors and 5xx/429 are retryable, 4xx (other than 429)
// are not.
func classify(resp *resty.Response) error {
	code := resp.StatusCode()
	if code < 400 {
		return nil
	}

	retryable := code >= 500 || code == 429
	var retryAfter time.Duration
	if ra := resp.Header().Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return &TransportError{
		StatusCode: code,
		RetryAfter: retryAfter,
		Retryable:  retryable,
		Err:        fmt.Errorf("broker responded %d: %s", code, resp.String()),
	}
}
