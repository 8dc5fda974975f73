package resource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinkrishna05/timetable-generator/internal/circuitbreaker"
	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
	"github.com/ashwinkrishna05/timetable-generator/internal/testutil"
)

type recordedRequest struct {
	op          string
	statusClass string
}

// mockMetrics records RemoteRequestCompleted calls.
type mockMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockMetrics) RemoteRequestCompleted(operation, statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{operation, statusClass})
}

func (m *mockMetrics) all() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL + "/api", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c, server
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "http://", "://bad"} {
		_, err := New(Config{BaseURL: raw})
		assert.Error(t, err, "base url %q", raw)
	}
}

func TestListClasses_Success(t *testing.T) {
	var gotPath, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("school_id")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":11,"school_id":1,"class_number":6,"sections":["A","B"],"no_sections":false,"created_at":"2025-01-10T09:00:00Z"},{"id":12,"school_id":1,"class_number":11,"stream":"Science","created_at":"2025-01-10T09:00:00Z"}]`)
	})

	classes, err := c.ListClasses(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "/api/classes/", gotPath)
	assert.Equal(t, "1", gotQuery)
	require.Len(t, classes, 2)
	assert.Equal(t, domain.ClassID(11), classes[0].ID)
	assert.Equal(t, []string{"A", "B"}, classes[0].Sections)
	assert.Equal(t, "Science", classes[1].Stream)
}

func TestListClasses_Empty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})

	classes, err := c.ListClasses(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestListClasses_TimestampWithoutOffset(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":11,"school_id":1,"class_number":6,"sections":["A"],"created_at":"2025-01-10T09:00:00"},{"id":12,"school_id":1,"class_number":7,"created_at":null}]`)
	})

	classes, err := c.ListClasses(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC), classes[0].CreatedAt)
	assert.True(t, classes[1].CreatedAt.IsZero())
}

func TestRemoteTime_Formats(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{`"2025-01-10T09:00:00Z"`, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)},
		{`"2025-01-10T11:00:00+02:00"`, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)},
		{`"2025-01-10T09:00:00"`, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)},
		{`"2025-01-10 09:00:00.123456"`, time.Date(2025, 1, 10, 9, 0, 0, 123456000, time.UTC)},
		{`""`, time.Time{}},
		{`null`, time.Time{}},
	}
	for _, tt := range tests {
		var got remoteTime
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &got), tt.raw)
		assert.True(t, tt.want.Equal(time.Time(got)), "%s: got %v", tt.raw, time.Time(got))
	}

	var bad remoteTime
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestFetchSummary_Success(t *testing.T) {
	fixed := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"school_name":"Springfield High","total_classes":2,"total_teachers":3,"classes_with_timetables":2,"working_days":["Mon","Tue","Wed","Thu","Fri"]}`)
	})
	c.WithClock(func() time.Time { return fixed })

	snap, err := c.FetchSummary(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "/api/timetables/school/1/summary", gotPath)
	assert.Equal(t, domain.Snapshot{
		SchoolID:              1,
		SchoolName:            "Springfield High",
		TotalClasses:          2,
		TotalTeachers:         3,
		ClassesWithTimetables: 2,
		WorkingDays:           []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		FetchedAt:             fixed,
	}, snap)
}

func TestFetchSummary_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"School not found"}`)
	})

	_, err := c.FetchSummary(context.Background(), 99)

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.SchoolID(99), nf.SchoolID)
	assert.Equal(t, "School not found", nf.Detail)
}

func TestFetchSummary_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchSummary(context.Background(), 1)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, OpFetchSummary, te.Op)
}

func TestFetchSummary_MalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"total_classes":"two"`)
	})

	_, err := c.FetchSummary(context.Background(), 1)
	assert.True(t, domain.IsTransport(err))
}

func TestSubmitGeneration_Accepted(t *testing.T) {
	var gotBody map[string]any
	var gotMethod, gotContentType, gotRequestID string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotRequestID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"message":"Timetables generated successfully","timetables":[{"class_id":1},{"class_id":2}],"note":"Physical Education limited to 2 periods per week"}`)
	})

	acc, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1, 2}})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, []any{float64(1), float64(2)}, gotBody["class_ids"])
	assert.Equal(t, false, gotBody["regenerate"])
	assert.Equal(t, "Timetables generated successfully", acc.Message)
	assert.Equal(t, "Physical Education limited to 2 periods per week", acc.Note)
	assert.Equal(t, 2, acc.Generated)
}

func TestSubmitGeneration_AcceptedWithEmptyBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	acc, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1}})
	require.NoError(t, err)
	assert.Equal(t, domain.Accepted{}, acc)
}

func TestSubmitGeneration_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"string detail", 400, `{"detail":"Class 7 has no subjects assigned"}`, "Class 7 has no subjects assigned"},
		{"validation array", 422, `{"detail":[{"loc":["body","class_ids",0],"msg":"value is not a valid integer","type":"type_error.integer"}]}`, "class_ids.0: value is not a valid integer"},
		{"no body", 409, ``, "Conflict"},
		{"plain text", 400, `bad things`, "bad things"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1}})

			var rej *domain.ValidationRejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.status, rej.StatusCode)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestSubmitGeneration_ServerErrorIsTransport(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"Failed to generate timetables: solver crashed"}`)
	})

	_, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1}})

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 500, te.StatusCode)
	assert.Contains(t, te.Error(), "solver crashed")
}

func TestSubmitGeneration_OtherClientErrorsAreTransport(t *testing.T) {
	for _, status := range []int{401, 403, 404, 408, 429} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			io.WriteString(w, `{"detail":"not for you"}`)
		})

		_, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1}})

		var te *domain.TransportError
		require.ErrorAs(t, err, &te, "status %d", status)
		assert.Equal(t, status, te.StatusCode)
		var rej *domain.ValidationRejection
		assert.False(t, errors.As(err, &rej), "status %d must not be a rejection", status)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.ListClasses(context.Background(), 1)
	assert.True(t, domain.IsTransport(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.FetchSummary(context.Background(), 1)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	breaker := circuitbreaker.New(1, time.Minute)
	c, err := New(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	c.WithBreaker(breaker)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = c.ListClasses(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", breaker.State(OpListClasses))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m := &mockMetrics{}
	c.WithBreaker(circuitbreaker.New(2, time.Minute)).WithMetrics(m)

	for i := 0; i < 2; i++ {
		_, err := c.FetchSummary(context.Background(), 1)
		require.True(t, domain.IsTransport(err))
	}

	_, err := c.FetchSummary(context.Background(), 1)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	mu.Lock()
	assert.Equal(t, 2, calls, "open circuit must not reach the server")
	mu.Unlock()

	got := m.all()
	require.Len(t, got, 3)
	assert.Equal(t, recordedRequest{OpFetchSummary, metrics.StatusClass5xx}, got[0])
	assert.Equal(t, recordedRequest{OpFetchSummary, metrics.StatusClassCircuitOpen}, got[2])
}

func TestClient_RejectionDoesNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"no subjects"}`)
	})
	breaker := circuitbreaker.New(1, time.Minute)
	c.WithBreaker(breaker)

	for i := 0; i < 3; i++ {
		_, err := c.SubmitGeneration(context.Background(), domain.GenerationRequest{ClassIDs: []domain.ClassID{1}})
		var rej *domain.ValidationRejection
		require.True(t, errors.As(err, &rej))
	}
	assert.Equal(t, "closed", breaker.State(OpSubmitGeneration))
}

func TestClient_BearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `[]`)
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL, Token: "s3cret"})
	require.NoError(t, err)

	_, err = c.ListSchools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
}

func TestListSchools_Success(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `[{"id":1,"name":"Springfield High","board":"CBSE","region":"North","working_days":["Mon","Tue"]},{"id":2,"name":"Shelbyville","working_days":[]}]`)
	})

	schools, err := c.ListSchools(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/api/schools/", gotPath)
	require.Len(t, schools, 2)
	assert.Equal(t, domain.School{ID: 1, Name: "Springfield High", WorkingDays: []string{"Mon", "Tue"}}, schools[0])
}

func TestClient_CancelledHalfOpenTrialReopensBreaker(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			<-r.Context().Done()
		default:
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `[]`)
		}
	})
	clock := testutil.NewFakeClock(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	breaker := circuitbreaker.New(1, time.Minute).WithClock(clock.Now)
	c.WithBreaker(breaker)

	_, err := c.ListClasses(context.Background(), 1)
	require.True(t, domain.IsTransport(err))
	require.Equal(t, "open", breaker.State(OpListClasses))

	clock.Advance(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.ListClasses(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "open", breaker.State(OpListClasses), "cancelled trial must not leave the key half-open")

	clock.Advance(time.Minute)
	classes, err := c.ListClasses(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, classes)
	assert.Equal(t, "closed", breaker.State(OpListClasses))
}
