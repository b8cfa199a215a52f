package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrNotFound is returned when the queried entity does not exist on the ledger.
	ErrNotFound = errors.New("ledger: not found")
)

// Reader is the query surface of the ledger gateway.
type Reader interface {
	GetPolicy(ctx context.Context, id int64) (Policy, error)
	GetClaim(ctx context.Context, id int64) (Claim, error)
}

// TxSender submits a signed transaction and blocks until the gateway reports
// the inclusion outcome.
type TxSender interface {
	SendTx(ctx context.Context, tx Tx) (SubmitReply, error)
}

// Requester is the request-reply slice of *nats.Conn the client needs.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// Client talks to the ledger gateway over NATS request-reply. Every request
// carries a short-lived bearer token minted from the client identity.
type Client struct {
	nc       Requester
	identity *Identity
	timeout  time.Duration
	now      func() time.Time
}

// NewClient builds a gateway client. timeout bounds each request when the
// caller's context has no earlier deadline.
func NewClient(nc Requester, identity *Identity, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		nc:       nc,
		identity: identity,
		timeout:  timeout,
		now:      time.Now,
	}
}

// WithClock overrides the token clock, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

type policyQuery struct {
	PolicyID int64 `json:"policy_id"`
}

type claimQuery struct {
	ClaimID int64 `json:"claim_id"`
}

type queryReply struct {
	Policy *Policy `json:"policy,omitempty"`
	Claim  *Claim  `json:"claim,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func (c *Client) GetPolicy(ctx context.Context, id int64) (Policy, error) {
	var reply queryReply
	if err := c.request(ctx, SubjectQueryPolicy, policyQuery{PolicyID: id}, &reply); err != nil {
		return Policy{}, fmt.Errorf("ledger: get policy %d: %w", id, err)
	}
	if reply.Error != "" {
		if reply.Error == "not found" {
			return Policy{}, fmt.Errorf("ledger: get policy %d: %w", id, ErrNotFound)
		}
		return Policy{}, fmt.Errorf("ledger: get policy %d: gateway: %s", id, reply.Error)
	}
	if reply.Policy == nil {
		return Policy{}, fmt.Errorf("ledger: get policy %d: empty reply", id)
	}
	return *reply.Policy, nil
}

func (c *Client) GetClaim(ctx context.Context, id int64) (Claim, error) {
	var reply queryReply
	if err := c.request(ctx, SubjectQueryClaim, claimQuery{ClaimID: id}, &reply); err != nil {
		return Claim{}, fmt.Errorf("ledger: get claim %d: %w", id, err)
	}
	if reply.Error != "" {
		if reply.Error == "not found" {
			return Claim{}, fmt.Errorf("ledger: get claim %d: %w", id, ErrNotFound)
		}
		return Claim{}, fmt.Errorf("ledger: get claim %d: gateway: %s", id, reply.Error)
	}
	if reply.Claim == nil {
		return Claim{}, fmt.Errorf("ledger: get claim %d: empty reply", id)
	}
	return *reply.Claim, nil
}

// SendTx submits a signed transaction and waits for the gateway to report
// inclusion. A transport error means the transaction was never confirmed;
// classification of reverted outcomes is left to the caller.
func (c *Client) SendTx(ctx context.Context, tx Tx) (SubmitReply, error) {
	var reply SubmitReply
	if err := c.request(ctx, SubjectSubmitTx, tx, &reply); err != nil {
		return SubmitReply{}, fmt.Errorf("ledger: submit tx seq %d: %w", tx.Sequence, err)
	}
	return reply, nil
}

func (c *Client) request(ctx context.Context, subject string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	token, err := c.identity.MintToken(c.now())
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Authorization", "Bearer "+token)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if err := json.Unmarshal(reply.Data, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}
