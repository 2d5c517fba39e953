package claimtool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"compensation-checker/internal/domain"
)

const (
	DefaultBaseURL = "https://www.eurowings.com"

	// SessionCookieName is the cookie issued by the session step and required
	// by the decision step.
	SessionCookieName = "ew_ct"

	// NoMessageFallback is returned when a decision body carries no message.
	NoMessageFallback = "No message in response"

	claimToolPath = "/at/4u/online-service-ausgleichsanspruch/_jcr_content/main/claimtool"
	sessionPath   = claimToolPath + ".submit.s2.html"
	decisionPath  = claimToolPath + ".submit.s3.html"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
	maxErrorBytes  = 4096
)

// sessionRequest is the body of the step-2 submission.
type sessionRequest struct {
	FlightNumber  string `json:"flightNumber"`
	DepartureDate string `json:"departureDate"`
	AirlineCode   string `json:"airlineCode"`
}

// decisionRequest is the body of the step-3 submission.
type decisionRequest struct {
	Name                    string `json:"name"`
	Surname                 string `json:"surname"`
	Email                   string `json:"email"`
	BookingCode             string `json:"bookingCode"`
	PersonalDetailsCheckbox string `json:"personalDetailsCheckbox"`
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the vendor claim tool.
type Client struct {
	baseURL string
	doer    Doer
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithDoer replaces the transport, e.g. with a canned-response fake.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.doer = httpClient
		}
	}
}

// WithTimeout bounds each of the two calls separately.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultBaseURL,
		doer:    &http.Client{Timeout: defaultTimeout},
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		return nil, errors.New("claimtool: doer must not be nil")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("claimtool: invalid base URL %q", c.baseURL)
	}
	return c, nil
}

func sessionURL(baseURL string) string {
	return endpointURL(baseURL, sessionPath)
}

func decisionURL(baseURL string) string {
	return endpointURL(baseURL, decisionPath)
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + path
}

// FetchSessionToken submits the flight details and returns the ew_ct cookie
// value. Flight fields are passed through unvalidated.
func (c *Client) FetchSessionToken(ctx context.Context, flight domain.Flight) (string, error) {
	c.logger.InfoContext(ctx, "sending session token request", "flight", flight.AirlineCode+flight.Number)

	body, err := json.Marshal(sessionRequest{
		FlightNumber:  flight.Number,
		DepartureDate: flight.DepartureDate,
		AirlineCode:   flight.AirlineCode,
	})
	if err != nil {
		return "", fmt.Errorf("claimtool: marshal session request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := sessionURL(c.baseURL)
	req, err := c.newJSONRequest(ctx, endpoint, body)
	if err != nil {
		return "", err
	}

	res, err := c.doer.Do(req)
	if err != nil {
		return "", &TransportError{Stage: StageSession, URL: endpoint, Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))

	for _, cookie := range res.Cookies() {
		if cookie.Name == SessionCookieName && cookie.Value != "" {
			c.logger.InfoContext(ctx, "session token extracted", "status", res.StatusCode)
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("%w (status %d)", ErrSessionTokenMissing, res.StatusCode)
}

// FetchDecision submits the passenger details with the session token and
// returns the decision message.
func (c *Client) FetchDecision(ctx context.Context, token string, passenger domain.Passenger) (string, error) {
	if token == "" {
		return "", errors.New("claimtool: session token must not be empty")
	}
	c.logger.InfoContext(ctx, "sending decision request")

	body, err := json.Marshal(decisionRequest{
		Name:                    passenger.Name,
		Surname:                 passenger.Surname,
		Email:                   passenger.Email,
		BookingCode:             passenger.BookingCode,
		PersonalDetailsCheckbox: "checked",
	})
	if err != nil {
		return "", fmt.Errorf("claimtool: marshal decision request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := decisionURL(c.baseURL)
	req, err := c.newJSONRequest(ctx, endpoint, body)
	if err != nil {
		return "", err
	}
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})

	res, err := c.doer.Do(req)
	if err != nil {
		return "", &TransportError{Stage: StageDecision, URL: endpoint, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return "", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return "", &TransportError{Stage: StageDecision, URL: endpoint, Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(buf) > maxBodyBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, maxBodyBytes)
	}
	return parseDecision(buf)
}

func (c *Client) newJSONRequest(ctx context.Context, endpoint string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("claimtool: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	return req, nil
}

// parseDecision extracts the message field from a decision body. A missing or
// null message yields NoMessageFallback; a non-string message is returned as
// its JSON text. Any body that is not a JSON object is a ResponseFormatError.
func parseDecision(body []byte) (string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &ResponseFormatError{Body: truncate(string(body), maxErrorBytes), Err: err}
	}
	if payload == nil {
		return "", &ResponseFormatError{Body: truncate(string(body), maxErrorBytes), Err: errors.New("body is not a JSON object")}
	}
	raw, ok := payload["message"]
	if !ok || string(raw) == "null" {
		return NoMessageFallback, nil
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil {
		return string(raw), nil
	}
	return message, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
