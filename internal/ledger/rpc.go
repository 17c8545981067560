package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"github.com/atmx/risk-engine/internal/model"
)

// StatusError is a non-2xx response from the ledger endpoint.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger rpc: status=%d body=%s", e.StatusCode, string(e.Body))
}

// retryable reports whether a failed attempt is worth repeating: transport
// errors, throttling and server errors.
func retryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// RPCOptions tunes the ledger client.
type RPCOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BackoffMin        time.Duration
	BackoffMax        time.Duration
}

// DefaultRPCOptions are the client settings used when none are configured.
var DefaultRPCOptions = RPCOptions{
	Timeout:           5 * time.Second,
	RequestsPerSecond: 25,
	Burst:             30,
	MaxRetries:        3,
	BackoffMin:        100 * time.Millisecond,
	BackoffMax:        2 * time.Second,
}

// RPCLedger implements Ledger against the ledger's HTTP/JSON read API.
// Requests are rate limited, retried with backoff and guarded by a circuit
// breaker.
type RPCLedger struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	pipeline failsafe.Executor[[]byte]
}

// NewRPCLedger creates a client for the ledger API rooted at baseURL.
func NewRPCLedger(baseURL string, opts RPCOptions) *RPCLedger {
	retryPolicy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
		WithBackoff(opts.BackoffMin, opts.BackoffMax).
		WithMaxRetries(opts.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &RPCLedger{
		client:   &http.Client{Timeout: opts.Timeout},
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		pipeline: failsafe.With[[]byte](retryPolicy, breaker),
	}
}

func (l *RPCLedger) FetchGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	var c model.GlobalConfig
	if err := l.getJSON(ctx, "/v1/config", &c); err != nil {
		return nil, fmt.Errorf("global config: %w", err)
	}
	return &c, nil
}

func (l *RPCLedger) FetchSpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error) {
	var m model.SpotMarket
	if err := l.getJSON(ctx, "/v1/spot-markets/"+strconv.Itoa(int(index)), &m); err != nil {
		return nil, fmt.Errorf("spot market %d: %w", index, err)
	}
	return &m, nil
}

func (l *RPCLedger) FetchPerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	var m model.PerpMarket
	if err := l.getJSON(ctx, "/v1/perp-markets/"+strconv.Itoa(int(index)), &m); err != nil {
		return nil, fmt.Errorf("perp market %d: %w", index, err)
	}
	return &m, nil
}

func (l *RPCLedger) FetchOraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	var p model.OraclePrice
	if err := l.getJSON(ctx, "/v1/oracles/"+url.PathEscape(string(ref)), &p); err != nil {
		return nil, fmt.Errorf("oracle %s: %w", ref, err)
	}
	return &p, nil
}

func (l *RPCLedger) FetchAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	var a model.Account
	path := fmt.Sprintf("/v1/accounts/%s/%d", url.PathEscape(id.Authority), id.SubAccountID)
	if err := l.getJSON(ctx, path, &a); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	a.ID = id
	return &a, nil
}

func (l *RPCLedger) getJSON(ctx context.Context, path string, v any) error {
	body, err := l.pipeline.WithContext(ctx).Get(func() ([]byte, error) {
		return l.do(ctx, path)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do performs one attempt.
func (l *RPCLedger) do(ctx context.Context, path string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
