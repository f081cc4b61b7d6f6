package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
)

// Service is the remote contract. Client implements it over Connect and
// NewHandler serves any implementation of it.
type Service interface {
	GetCurrentSnapshot(ctx context.Context, req *GetCurrentSnapshotRequest) (*GetCurrentSnapshotResponse, error)
	SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*SubmitVoteResponse, error)
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	ReportPeak(ctx context.Context, req *ReportPeakRequest) (*ReportPeakResponse, error)
	RecordPresence(ctx context.Context, req *RecordPresenceRequest) (*RecordPresenceResponse, error)
	GetCityPresenceCounts(ctx context.Context, req *GetCityPresenceCountsRequest) (*GetCityPresenceCountsResponse, error)
}

type Client struct {
	getCurrentSnapshot    *connect.Client[GetCurrentSnapshotRequest, GetCurrentSnapshotResponse]
	submitVote            *connect.Client[SubmitVoteRequest, SubmitVoteResponse]
	heartbeat             *connect.Client[HeartbeatRequest, HeartbeatResponse]
	reportPeak            *connect.Client[ReportPeakRequest, ReportPeakResponse]
	recordPresence        *connect.Client[RecordPresenceRequest, RecordPresenceResponse]
	getCityPresenceCounts *connect.Client[GetCityPresenceCountsRequest, GetCityPresenceCountsResponse]
}

var _ Service = (*Client)(nil)

// NewHTTPClient returns the http.Client used for backend calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{clientCodec()}, opts...)

	return &Client{
		getCurrentSnapshot: connect.NewClient[GetCurrentSnapshotRequest, GetCurrentSnapshotResponse](
			httpClient, baseURL+GetCurrentSnapshotProcedure, opts...),
		submitVote: connect.NewClient[SubmitVoteRequest, SubmitVoteResponse](
			httpClient, baseURL+SubmitVoteProcedure, opts...),
		heartbeat: connect.NewClient[HeartbeatRequest, HeartbeatResponse](
			httpClient, baseURL+HeartbeatProcedure, opts...),
		reportPeak: connect.NewClient[ReportPeakRequest, ReportPeakResponse](
			httpClient, baseURL+ReportPeakProcedure, opts...),
		recordPresence: connect.NewClient[RecordPresenceRequest, RecordPresenceResponse](
			httpClient, baseURL+RecordPresenceProcedure, opts...),
		getCityPresenceCounts: connect.NewClient[GetCityPresenceCountsRequest, GetCityPresenceCountsResponse](
			httpClient, baseURL+GetCityPresenceCountsProcedure, opts...),
	}
}

type validator interface {
	Validate() error
}

// call validates req, performs the unary call and validates the answer.
func call[Req, Res any](ctx context.Context, op string, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	if v, ok := any(req).(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s request: %w", op, err)
		}
	}

	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, wrapError(op, err)
	}

	if v, ok := any(resp.Msg).(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s response: %w", op, err)
		}
	}
	return resp.Msg, nil
}

func wrapError(op string, err error) error {
	if connect.CodeOf(err) == connect.CodeResourceExhausted {
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) GetCurrentSnapshot(ctx context.Context, req *GetCurrentSnapshotRequest) (*GetCurrentSnapshotResponse, error) {
	return call(ctx, "get current snapshot", c.getCurrentSnapshot, req)
}

// SubmitVote returns ErrRateLimited both for a "rate_limited" status and for
// a resource-exhausted error code.
func (c *Client) SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*SubmitVoteResponse, error) {
	resp, err := call(ctx, "submit vote", c.submitVote, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == VoteStatusRateLimited {
		return resp, fmt.Errorf("submit vote: %w", ErrRateLimited)
	}
	return resp, nil
}

func (c *Client) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	return call(ctx, "heartbeat", c.heartbeat, req)
}

func (c *Client) ReportPeak(ctx context.Context, req *ReportPeakRequest) (*ReportPeakResponse, error) {
	return call(ctx, "report peak", c.reportPeak, req)
}

func (c *Client) RecordPresence(ctx context.Context, req *RecordPresenceRequest) (*RecordPresenceResponse, error) {
	return call(ctx, "record presence", c.recordPresence, req)
}

func (c *Client) GetCityPresenceCounts(ctx context.Context, req *GetCityPresenceCountsRequest) (*GetCityPresenceCountsResponse, error) {
	return call(ctx, "get city presence counts", c.getCityPresenceCounts, req)
}

// IsRateLimited reports whether err is a remote rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
