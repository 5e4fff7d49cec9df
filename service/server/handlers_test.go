package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const txHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var _ Feed = (*reconcile.Engine)(nil)

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Ready() bool {
	return m.Called().Bool(0)
}

func (m *MockFeed) Get(ctx context.Context, id string) (*feed.Event, error) {
	args := m.Called(ctx, id)
	ev, _ := args.Get(0).(*feed.Event)
	return ev, args.Error(1)
}

func (m *MockFeed) EnqueueTX(ctx context.Context, ev *feed.Event) bool {
	return m.Called(ctx, ev).Bool(0)
}

func (m *MockFeed) GetFeedPage(ctx context.Context, count int, reset bool, category feed.Category) []*feed.Event {
	args := m.Called(ctx, count, reset, category)
	page, _ := args.Get(0).([]*feed.Event)
	return page
}

func (m *MockFeed) UpdateEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event {
	ev, _ := m.Called(ctx, id, status).Get(0).(*feed.Event)
	return ev
}

func (m *MockFeed) UpdateOTPLEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event {
	ev, _ := m.Called(ctx, id, status).Get(0).(*feed.Event)
	return ev
}

func (m *MockFeed) MarkWithErrorEvent(ctx context.Context, txHash string) {
	m.Called(ctx, txHash)
}

func (m *MockFeed) Reprocess(ctx context.Context, id string) *feed.Event {
	ev, _ := m.Called(ctx, id).Get(0).(*feed.Event)
	return ev
}

func (m *MockFeed) Subscribe(fn func(reconcile.Update)) func() {
	return m.Called(fn).Get(0).(func())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(f Feed) http.Handler {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(":0", f, m, testLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := new(MockFeed)
	f.On("Ready").Return(false).Once()
	f.On("Ready").Return(true).Once()
	h := newTestHandler(f)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health", "").Code)
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetFeedPage(t *testing.T) {
	items := []*feed.Event{{ID: "0x1"}, {ID: "0x2"}}

	tests := []struct {
		name       string
		query      string
		setup      func(f *MockFeed)
		wantStatus int
		wantCount  int
	}{
		{
			name:  "defaults",
			query: "",
			setup: func(f *MockFeed) {
				f.On("Ready").Return(true)
				f.On("GetFeedPage", mock.Anything, 10, false, feed.CategoryAll).Return(items)
			},
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:  "explicit parameters",
			query: "?count=5&reset=true&category=rewards",
			setup: func(f *MockFeed) {
				f.On("Ready").Return(true)
				f.On("GetFeedPage", mock.Anything, 5, true, feed.CategoryRewards).Return(nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  0,
		},
		{name: "count too large", query: "?count=1000", setup: func(*MockFeed) {}, wantStatus: http.StatusBadRequest},
		{name: "count not a number", query: "?count=ten", setup: func(*MockFeed) {}, wantStatus: http.StatusBadRequest},
		{name: "bad reset", query: "?reset=maybe", setup: func(*MockFeed) {}, wantStatus: http.StatusBadRequest},
		{name: "unknown category", query: "?category=nfts", setup: func(*MockFeed) {}, wantStatus: http.StatusBadRequest},
		{
			name:       "not ready",
			setup:      func(f *MockFeed) { f.On("Ready").Return(false) },
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := new(MockFeed)
			tt.setup(f)

			rec := do(t, newTestHandler(f), http.MethodGet, "/api/v1/feed"+tt.query, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				var resp pageResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCount, resp.Count)
				assert.Len(t, resp.Items, tt.wantCount)
			}
			f.AssertExpectations(t)
		})
	}
}

func TestGetEvent(t *testing.T) {
	f := new(MockFeed)
	f.On("Get", mock.Anything, txHash).Return(&feed.Event{ID: txHash, Type: feed.ItemReceive}, nil)
	f.On("Get", mock.Anything, "0xmissing").Return(nil, nil)
	f.On("Get", mock.Anything, "0xearly").Return(nil, reconcile.ErrNotReady)
	h := newTestHandler(f)

	rec := do(t, h, http.MethodGet, "/api/v1/feed/"+txHash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ev feed.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, feed.ItemReceive, ev.Type)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/feed/0xmissing", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/feed/0xearly", "").Code)
}

func TestEnqueue(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		enqueued   bool
		wantStatus int
		wantAmount string
	}{
		{name: "created", body: `{"id":"0xabc","type":"send","status":"pending"}`, enqueued: true, wantStatus: http.StatusCreated},
		{name: "numeric amount", body: `{"id":"0xabc","type":"send","data":{"amount":100}}`, enqueued: true, wantStatus: http.StatusCreated, wantAmount: "100"},
		{name: "conflict", body: `{"id":"0xabc","type":"send"}`, enqueued: false, wantStatus: http.StatusConflict},
		{name: "missing id", body: `{"type":"send"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid status", body: `{"id":"0xabc","status":"lost"}`, wantStatus: http.StatusBadRequest},
		{name: "non-numeric amount", body: `{"id":"0xabc","type":"send","data":{"amount":true}}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"id":`, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"id":"` + strings.Repeat("a", 2<<20) + `"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent *feed.Event
			f := new(MockFeed)
			f.On("EnqueueTX", mock.Anything, mock.MatchedBy(func(ev *feed.Event) bool {
				return ev.ID == "0xabc" && ev.Type == feed.ItemSend
			})).Run(func(args mock.Arguments) {
				sent = args.Get(1).(*feed.Event)
			}).Return(tt.enqueued).Maybe()
			f.On("Get", mock.Anything, "0xabc").Return(&feed.Event{
				ID:          "0xabc",
				Type:        feed.ItemSend,
				Status:      feed.StatusPending,
				CreatedDate: created,
				Date:        created,
				Data:        feed.Data{Amount: tt.wantAmount},
			}, nil).Maybe()

			rec := do(t, newTestHandler(f), http.MethodPost, "/api/v1/feed", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusBadRequest {
				f.AssertNotCalled(t, "EnqueueTX", mock.Anything, mock.Anything)
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}

			require.NotNil(t, sent)
			assert.Equal(t, tt.wantAmount, sent.Data.Amount)

			var got feed.Event
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, feed.StatusPending, got.Status)
			assert.True(t, got.CreatedDate.Equal(created), "response carries the stored record")
			assert.Equal(t, tt.wantAmount, got.Data.Amount)
		})
	}
}

func TestEnqueue_FallsBackToRequestWhenReadFails(t *testing.T) {
	f := new(MockFeed)
	f.On("EnqueueTX", mock.Anything, mock.Anything).Return(true)
	f.On("Get", mock.Anything, "0xabc").Return(nil, errors.New("store down"))

	rec := do(t, newTestHandler(f), http.MethodPost, "/api/v1/feed", `{"id":"0xabc","type":"send"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"0xabc"`)
}

func TestUpdateStatus(t *testing.T) {
	f := new(MockFeed)
	f.On("UpdateEventStatus", mock.Anything, "0xabc", feed.StatusCancelled).
		Return(&feed.Event{ID: "0xabc", Status: feed.StatusCancelled})
	f.On("UpdateEventStatus", mock.Anything, "0xmissing", feed.StatusCancelled).Return(nil)
	h := newTestHandler(f)

	rec := do(t, h, http.MethodPut, "/api/v1/feed/0xabc/status", `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/v1/feed/0xmissing/status", `{"status":"cancelled"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/feed/0xabc/status", `{"status":"gone"}`).Code)
}

func TestUpdateOTPLStatus(t *testing.T) {
	f := new(MockFeed)
	f.On("UpdateOTPLEventStatus", mock.Anything, "link-1", feed.StatusCompleted).
		Return(&feed.Event{ID: "link-1", OTPLStatus: feed.StatusCompleted})
	h := newTestHandler(f)

	rec := do(t, h, http.MethodPut, "/api/v1/feed/link-1/otpl-status", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"otplStatus":"completed"`)

	// error and deleted are record statuses, not payment link states.
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/feed/link-1/otpl-status", `{"status":"error"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/feed/link-1/otpl-status", `{"status":"deleted"}`).Code)
}

func TestMarkError(t *testing.T) {
	f := new(MockFeed)
	f.On("Get", mock.Anything, txHash).Return(&feed.Event{ID: txHash}, nil)
	f.On("Get", mock.Anything, "0xmissing").Return(nil, nil)
	f.On("MarkWithErrorEvent", mock.Anything, txHash).Return()
	h := newTestHandler(f)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/feed/"+txHash+"/error", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/feed/0xmissing/error", "").Code)
	f.AssertNumberOfCalls(t, "MarkWithErrorEvent", 1)
}

func TestReprocess(t *testing.T) {
	f := new(MockFeed)
	f.On("Reprocess", mock.Anything, txHash).Return(&feed.Event{ID: txHash, TxType: feed.TxReceive}).Once()
	f.On("Reprocess", mock.Anything, txHash).Return(nil).Once()
	h := newTestHandler(f)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/receipts/"+txHash, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/receipts/"+txHash, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/receipts/0x1234", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/receipts/0x"+strings.Repeat("z", 64), "").Code)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: txHash},
		{id: "link-code_1"},
		{id: "", wantErr: true},
		{id: strings.Repeat("a", maxIDLength+1), wantErr: true},
		{id: "has space", wantErr: true},
		{id: "tab\tid", wantErr: true},
	}
	for _, tt := range tests {
		err := validateID(tt.id)
		if tt.wantErr {
			assert.Error(t, err, tt.id)
		} else {
			assert.NoError(t, err, tt.id)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestHandler(new(MockFeed)), http.MethodOptions, "/api/v1/feed", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamFeed(t *testing.T) {
	subscribed := make(chan func(reconcile.Update), 1)
	unsubscribed := make(chan struct{})

	f := new(MockFeed)
	f.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		subscribed <- args.Get(0).(func(reconcile.Update))
	}).Return(func() { close(unsubscribed) })

	srv := httptest.NewServer(newTestHandler(f))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream/feed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		require.True(t, lines.Scan())
		return lines.Text()
	}
	assert.Equal(t, "event: connected", next())
	assert.Equal(t, "data: {}", next())
	assert.Equal(t, "", next())

	var publish func(reconcile.Update)
	select {
	case publish = <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("handler did not subscribe")
	}
	publish(reconcile.Update{IDs: []string{"0x1", "0x2"}})

	assert.Equal(t, "event: update", next())
	data := strings.TrimPrefix(next(), "data: ")
	var u reconcile.Update
	require.NoError(t, json.Unmarshal([]byte(data), &u))
	assert.Equal(t, []string{"0x1", "0x2"}, u.IDs)

	cancel()
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("handler did not unsubscribe")
	}
}
