// Package resource talks to the remote scheduling service. It performs no
// retries: every failure is returned to the caller as a typed domain error.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
)

// Operation names, used as breaker keys and metric labels.
const (
	OpListSchools      = "list_schools"
	OpListClasses      = "list_classes"
	OpFetchSummary     = "fetch_summary"
	OpSubmitGeneration = "submit_generation"
)

const (
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// Breaker guards remote endpoints. *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
	// RecordAbandoned ends an allowed request that produced no verdict.
	RecordAbandoned(key string)
}

// MetricsSink records request metrics. Implementations must be non-blocking.
type MetricsSink interface {
	RemoteRequestCompleted(operation, statusClass string, duration time.Duration)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL    *url.URL
	token      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    Breaker
	metrics    MetricsSink
	clock      func() time.Time
	log        logrus.FieldLogger
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: scheme must be http or https")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse base url: host is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    u,
		token:      cfg.Token,
		timeout:    timeout,
		httpClient: &http.Client{},
		clock:      time.Now,
		log:        logger.For("resource"),
	}, nil
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithBreaker enables fail-fast per operation. Pass nil to disable.
func (c *Client) WithBreaker(b Breaker) *Client {
	c.breaker = b
	return c
}

func (c *Client) WithMetrics(m MetricsSink) *Client {
	c.metrics = m
	return c
}

func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

func (c *Client) WithLogger(l logrus.FieldLogger) *Client {
	c.log = l
	return c
}

// ListSchools returns every school known to the remote service.
func (c *Client) ListSchools(ctx context.Context) ([]domain.School, error) {
	resp, err := c.do(ctx, OpListSchools, http.MethodGet, "/schools/", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.readError(OpListSchools, 0, resp); err != nil {
		return nil, err
	}

	var schools []domain.School
	if err := json.Unmarshal(resp.body, &schools); err != nil {
		return nil, &domain.TransportError{Op: OpListSchools, StatusCode: resp.statusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return schools, nil
}

// ListClasses returns the classes owned by school.
func (c *Client) ListClasses(ctx context.Context, school domain.SchoolID) ([]domain.Class, error) {
	q := url.Values{"school_id": {school.String()}}
	resp, err := c.do(ctx, OpListClasses, http.MethodGet, "/classes/", q, nil)
	if err != nil {
		return nil, err
	}
	if err := c.readError(OpListClasses, school, resp); err != nil {
		return nil, err
	}

	var body []classBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, &domain.TransportError{Op: OpListClasses, StatusCode: resp.statusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	classes := make([]domain.Class, 0, len(body))
	for _, b := range body {
		classes = append(classes, domain.Class{
			ID:          b.ID,
			SchoolID:    b.SchoolID,
			ClassNumber: b.ClassNumber,
			Sections:    b.Sections,
			NoSections:  b.NoSections,
			Stream:      b.Stream,
			CreatedAt:   time.Time(b.CreatedAt),
		})
	}
	return classes, nil
}

type classBody struct {
	ID          domain.ClassID  `json:"id"`
	SchoolID    domain.SchoolID `json:"school_id"`
	ClassNumber int             `json:"class_number"`
	Sections    []string        `json:"sections"`
	NoSections  bool            `json:"no_sections"`
	Stream      string          `json:"stream"`
	CreatedAt   remoteTime      `json:"created_at"`
}

// remoteTime accepts RFC 3339 timestamps and the offset-less form the
// remote service writes from its database, which is taken as UTC.
type remoteTime time.Time

const localTimestamp = "2006-01-02T15:04:05.999999999"

func (t *remoteTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.Replace(strings.TrimSpace(raw), " ", "T", 1)
	if raw == "" {
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		*t = remoteTime(v)
		return nil
	}
	v, err := time.ParseInLocation(localTimestamp, raw, time.UTC)
	if err != nil {
		return fmt.Errorf("created_at %q: %w", raw, err)
	}
	*t = remoteTime(v)
	return nil
}

type summaryBody struct {
	SchoolName            string   `json:"school_name"`
	TotalClasses          int      `json:"total_classes"`
	TotalTeachers         int      `json:"total_teachers"`
	ClassesWithTimetables int      `json:"classes_with_timetables"`
	WorkingDays           []string `json:"working_days"`
}

// FetchSummary returns a freshly fetched snapshot for school.
func (c *Client) FetchSummary(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error) {
	resp, err := c.do(ctx, OpFetchSummary, http.MethodGet, "/timetables/school/"+school.String()+"/summary", nil, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := c.readError(OpFetchSummary, school, resp); err != nil {
		return domain.Snapshot{}, err
	}

	var body summaryBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return domain.Snapshot{}, &domain.TransportError{Op: OpFetchSummary, StatusCode: resp.statusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return domain.Snapshot{
		SchoolID:              school,
		SchoolName:            body.SchoolName,
		TotalClasses:          body.TotalClasses,
		TotalTeachers:         body.TotalTeachers,
		ClassesWithTimetables: body.ClassesWithTimetables,
		WorkingDays:           body.WorkingDays,
		FetchedAt:             c.clock().UTC(),
	}, nil
}

type acceptedBody struct {
	Message    string          `json:"message"`
	Note       string          `json:"note"`
	Timetables json.RawMessage `json:"timetables"`
}

// SubmitGeneration asks the remote service to generate timetables.
// A 400, 409 or 422 answer is returned as *domain.ValidationRejection. Any
// other non-2xx answer, including auth failures and rate limits, is a
// *domain.TransportError.
func (c *Client) SubmitGeneration(ctx context.Context, req domain.GenerationRequest) (domain.Accepted, error) {
	resp, err := c.do(ctx, OpSubmitGeneration, http.MethodPost, "/timetables/generate", nil, req)
	if err != nil {
		return domain.Accepted{}, err
	}

	switch {
	case isRejection(resp.statusCode):
		return domain.Accepted{}, &domain.ValidationRejection{
			StatusCode: resp.statusCode,
			Reason:     parseDetail(resp.body, resp.statusCode),
		}
	case resp.statusCode < 200 || resp.statusCode >= 300:
		return domain.Accepted{}, &domain.TransportError{
			Op:         OpSubmitGeneration,
			StatusCode: resp.statusCode,
			Err:        errors.New(parseDetail(resp.body, resp.statusCode)),
		}
	}

	var body acceptedBody
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &body); err != nil {
			c.log.WithError(err).Warn("resource: unreadable generation acknowledgement, treating as accepted")
		}
	}

	return domain.Accepted{
		Message:   body.Message,
		Note:      body.Note,
		Generated: countEntries(body.Timetables),
	}, nil
}

type response struct {
	statusCode int
	body       []byte
}

// do sends one request. Only failures to obtain a response are returned as
// errors; status handling is left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) (*response, error) {
	start := c.clock()

	if c.breaker != nil {
		if err := c.breaker.Allow(op); err != nil {
			c.record(op, 0, err, start)
			return nil, &domain.TransportError{Op: op, Err: err}
		}
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.breakerAbandoned(op)
			return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("marshal: %w", err)}
		}
		reqBody = bytes.NewReader(b)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, method, u.String(), reqBody)
	if err != nil {
		c.breakerAbandoned(op)
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.record(op, 0, err, start)
		// A caller walking away says nothing about the remote's health.
		if ctx.Err() == nil {
			c.breakerFailure(op)
		} else {
			c.breakerAbandoned(op)
		}
		c.log.WithFields(logrus.Fields{"op": op, "request_id": requestID}).WithError(err).Warn("resource: request failed")
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(op, resp.StatusCode, err, start)
		if ctx.Err() == nil {
			c.breakerFailure(op)
		} else {
			c.breakerAbandoned(op)
		}
		return nil, &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.record(op, resp.StatusCode, nil, start)
	if resp.StatusCode >= 500 {
		c.breakerFailure(op)
	} else if c.breaker != nil {
		c.breaker.RecordSuccess(op)
	}

	c.log.WithFields(logrus.Fields{
		"op":         op,
		"status":     resp.StatusCode,
		"request_id": requestID,
	}).Debug("resource: request completed")

	return &response{statusCode: resp.StatusCode, body: body}, nil
}

// readError maps a non-2xx read response onto the domain error taxonomy.
func (c *Client) readError(op string, school domain.SchoolID, resp *response) error {
	switch {
	case resp.statusCode >= 200 && resp.statusCode < 300:
		return nil
	case resp.statusCode == http.StatusNotFound:
		return &domain.NotFoundError{Op: op, SchoolID: school, Detail: parseDetail(resp.body, resp.statusCode)}
	default:
		return &domain.TransportError{
			Op:         op,
			StatusCode: resp.statusCode,
			Err:        errors.New(parseDetail(resp.body, resp.statusCode)),
		}
	}
}

func (c *Client) record(op string, status int, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.RemoteRequestCompleted(op, metrics.ClassifyStatus(status, err), c.clock().Sub(start))
	}
}

func (c *Client) breakerFailure(op string) {
	if c.breaker != nil {
		c.breaker.RecordFailure(op)
	}
}

func (c *Client) breakerAbandoned(op string) {
	if c.breaker != nil {
		c.breaker.RecordAbandoned(op)
	}
}

// isRejection reports whether status means the remote refused the request
// body itself.
func isRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
