package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vreid/kakunin/internal/pkg/match"
	"github.com/vreid/kakunin/internal/pkg/reputation"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

const DefaultTimeout = 10 * time.Second

type APIError struct {
	Status  int
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// Client talks to a running kakunin server.
type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) Submit(ctx context.Context, req match.SubmitRequest) (*match.MatchView, error) {
	var result match.MatchView

	err := c.do(ctx, http.MethodPost, "/api/matches", req, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Verify(ctx context.Context, matchID string, req match.VerifyRequest) (*match.MatchView, error) {
	var result match.MatchView

	err := c.do(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/verifications", req, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Get(ctx context.Context, matchID string) (*match.MatchView, error) {
	var result match.MatchView

	err := c.do(ctx, http.MethodGet, "/api/matches/"+url.PathEscape(matchID), nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) List(ctx context.Context, query match.ListQuery) (*match.MatchPage, error) {
	params := url.Values{}

	if query.Status != "" {
		params.Set("status", query.Status)
	}

	if query.Team != "" {
		params.Set("team", query.Team)
	}

	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}

	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}

	path := "/api/matches"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var result match.MatchPage

	err := c.do(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Resolve(ctx context.Context, matchID string) (*verification.Resolution, error) {
	var result verification.Resolution

	err := c.do(ctx, http.MethodGet, "/api/matches/"+url.PathEscape(matchID)+"/resolution", nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Finalize(ctx context.Context, matchID string, req match.FinalizeRequest) (*match.MatchView, error) {
	var result match.MatchView

	err := c.do(ctx, http.MethodPost, "/api/matches/"+url.PathEscape(matchID)+"/finalize", req, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Receipt(ctx context.Context, matchID string) (*match.SignedReceipt, error) {
	var result match.SignedReceipt

	err := c.do(ctx, http.MethodGet, "/api/matches/"+url.PathEscape(matchID)+"/receipt", nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Reputation(ctx context.Context, attester string) (*reputation.Standing, error) {
	var result reputation.Standing

	err := c.do(ctx, http.MethodGet, "/api/reputation/"+url.PathEscape(attester), nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiError := &APIError{}

	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiError)

	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		apiError.Status = resp.StatusCode()
		if apiError.Message == "" {
			apiError.Message = http.StatusText(resp.StatusCode())
		}

		return apiError
	}

	return nil
}
