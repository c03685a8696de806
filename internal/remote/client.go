// internal/remote/client.go
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtmaster/timemap/internal/timemap"
)

// DefaultPollTimeout bounds one refresh pull. A slow upstream must never
// stall the grid; the scheduler just skips the cycle.
const DefaultPollTimeout = 5 * time.Second

// Config carries the upstream booking store endpoints. AuthToken, when set,
// travels as a bearer credential on every request.
type Config struct {
	BaseURL     string
	PollTimeout time.Duration
	AuthToken   string
}

// Client talks to the upstream booking store: day payloads, the refresh
// feed, placement validation, gesture commits, and season pricing. It
// satisfies timemap.Validator.
type Client struct {
	baseURL     string
	pollTimeout time.Duration
	authToken   string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient builds a client for one upstream.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		pollTimeout: timeout,
		authToken:   cfg.AuthToken,
		httpClient:  &http.Client{},
		logger:      logger.With().Str("component", "remote").Logger(),
	}
}

// FetchDay pulls the full day payload for a date and viewing type.
func (c *Client) FetchDay(ctx context.Context, date string, viewingType int) (timemap.RawSnapshot, error) {
	var raw timemap.RawSnapshot
	endpoint := fmt.Sprintf("%s/ordertime/day?%s", c.baseURL, dayQuery(date, viewingType))
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return timemap.RawSnapshot{}, fmt.Errorf("fetch day %s: %w", date, err)
	}
	return raw, nil
}

// Poll pulls the diff-instruction feed for a date and viewing type. The
// request is bounded by the poll timeout regardless of the caller's context.
func (c *Client) Poll(ctx context.Context, date string, viewingType int) (timemap.InstructionSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var response struct {
		Instructions timemap.InstructionSet `json:"instructions"`
	}
	endpoint := fmt.Sprintf("%s/polling?%s", c.baseURL, dayQuery(date, viewingType))
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return timemap.InstructionSet{}, fmt.Errorf("poll %s: %w", date, err)
	}
	return response.Instructions, nil
}

// ValidateFreeTime asks the upstream whether a placement is free on every
// recurrence date. The placement travels as a form field holding JSON, which
// is what the store expects.
func (c *Client) ValidateFreeTime(ctx context.Context, proposed timemap.ProposedTime) (timemap.ValidationResult, error) {
	encoded, err := json.Marshal(proposed)
	if err != nil {
		return timemap.ValidationResult{}, fmt.Errorf("validate placement: %w", err)
	}
	form := url.Values{"ordertime": {string(encoded)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/ordertime/validate", strings.NewReader(form.Encode()))
	if err != nil {
		return timemap.ValidationResult{}, fmt.Errorf("validate placement: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result timemap.ValidationResult
	if err := c.do(req, &result); err != nil {
		return timemap.ValidationResult{}, fmt.Errorf("validate placement: %w", err)
	}
	return result, nil
}

type wireSpan struct {
	ID       int64  `json:"id,omitempty"`
	CourtID  int64  `json:"court_id,omitempty"`
	TimeFrom string `json:"time_from"`
	TimeTo   string `json:"time_to"`
}

// CommitMove persists an accepted move gesture upstream.
func (c *Client) CommitMove(ctx context.Context, command *timemap.MoveCommand) error {
	payload := struct {
		Ordertime wireSpan `json:"ordertime"`
		Type      int      `json:"type"`
	}{
		Ordertime: wireSpan{
			ID:       command.BookingID,
			CourtID:  command.CourtID,
			TimeFrom: command.TimeFrom.Value,
			TimeTo:   command.TimeTo.Value,
		},
		Type: command.Type,
	}
	if err := c.postJSON(ctx, c.baseURL+"/ordertime/move", payload, nil); err != nil {
		return fmt.Errorf("commit move of booking %d: %w", command.BookingID, err)
	}
	c.logger.Info().
		Int64("booking_id", command.BookingID).
		Int64("court_id", command.CourtID).
		Str("time_from", command.TimeFrom.Value).
		Str("time_to", command.TimeTo.Value).
		Msg("move committed")
	return nil
}

// CommitStretch persists an accepted stretch gesture upstream.
func (c *Client) CommitStretch(ctx context.Context, command *timemap.StretchCommand) error {
	payload := struct {
		Ordertime wireSpan `json:"ordertime"`
		Type      int      `json:"type"`
	}{
		Ordertime: wireSpan{
			ID:       command.BookingID,
			TimeFrom: command.TimeFrom.Value,
			TimeTo:   command.TimeTo.Value,
		},
		Type: command.Type,
	}
	if err := c.postJSON(ctx, c.baseURL+"/ordertime/stretch", payload, nil); err != nil {
		return fmt.Errorf("commit stretch of booking %d: %w", command.BookingID, err)
	}
	c.logger.Info().
		Int64("booking_id", command.BookingID).
		Str("time_from", command.TimeFrom.Value).
		Str("time_to", command.TimeTo.Value).
		Msg("stretch committed")
	return nil
}

// SeasonPriceRequest prices a set of spans across a whole season.
type SeasonPriceRequest struct {
	Date     string
	Spans    []timemap.Selection
	TypeID   int
	Discount float64
}

// SeasonPrice asks the upstream to price a season booking. Spans travel as
// an index-keyed object, the store's list encoding.
func (c *Client) SeasonPrice(ctx context.Context, request SeasonPriceRequest) (float64, error) {
	spans := make(map[string]wireSpan, len(request.Spans))
	for i, span := range request.Spans {
		spans[strconv.Itoa(i)] = wireSpan{
			CourtID:  span.CourtID,
			TimeFrom: span.TimeFrom,
			TimeTo:   span.TimeTo,
		}
	}
	payload := struct {
		Date      string              `json:"date"`
		Ordertime map[string]wireSpan `json:"ordertime"`
		Order     struct {
			TypeID   int     `json:"type_id"`
			Discount float64 `json:"discount"`
		} `json:"order"`
	}{Date: request.Date, Ordertime: spans}
	payload.Order.TypeID = request.TypeID
	payload.Order.Discount = request.Discount

	var response struct {
		Success bool    `json:"success"`
		Price   float64 `json:"price"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/order/price", payload, &response); err != nil {
		return 0, fmt.Errorf("season price: %w", err)
	}
	if !response.Success {
		return 0, fmt.Errorf("season price: upstream refused the request")
	}
	return response.Price, nil
}

func dayQuery(date string, viewingType int) string {
	query := url.Values{}
	query.Set("date", date)
	query.Set("type", strconv.Itoa(viewingType))
	return query.Encode()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
