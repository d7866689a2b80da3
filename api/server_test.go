package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradecore/api"
	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/marketdata"
	"github.com/Aidin1998/tradecore/internal/trading"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/models"
	"github.com/Aidin1998/tradecore/testutil"
)

type stubHub struct {
	calls  int
	userID string
}

func (h *stubHub) ServeWS(w http.ResponseWriter, _ *http.Request, userID string) {
	h.calls++
	h.userID = userID
	w.WriteHeader(http.StatusOK)
}

type env struct {
	db     *gorm.DB
	router *gin.Engine
	hub    *stubHub
	user   *models.User
	asset  *models.Asset
}

func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	svc := trading.NewService(
		repository.NewRepository(db, zap.NewNop()),
		audit.NewRecorder(db, zap.NewNop()),
		nil,
		trading.Config{},
		zap.NewNop(),
	)
	hub := &stubHub{}
	srv := api.NewServer(zap.NewNop(), svc, marketdata.NewStore(db), hub, api.Options{})
	return &env{
		db:     db,
		router: srv.Router(),
		hub:    hub,
		user:   testutil.CreateUser(t, db, "10000"),
		asset:  testutil.CreateAsset(t, db, "ABC", "100"),
	}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(api.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func problem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func marketOrder(side, qty string) map[string]interface{} {
	return map[string]interface{}{"symbol": "ABC", "type": "market", "side": side, "quantity": qty}
}

func TestHealthCheck(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tradecore_")
}

func TestMissingIdentityIsForbidden(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/v1/balance", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", problem(t, w)["kind"])

	w = e.do(t, http.MethodGet, "/api/v1/balance", nil, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceMarketOrder(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/orders", marketOrder("buy", "10"), e.user.ID.String())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	decodeData(t, w, &order)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.Equal(t, "ABC", order.Symbol)

	w = e.do(t, http.MethodGet, "/api/v1/balance", nil, e.user.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var bal trading.Balance
	decodeData(t, w, &bal)
	assert.Equal(t, "8999", bal.Balance.String())

	w = e.do(t, http.MethodGet, "/api/v1/positions", nil, e.user.ID.String())
	var positions []models.Position
	decodeData(t, w, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "10", positions[0].Quantity.String())

	w = e.do(t, http.MethodGet, "/api/v1/trades", nil, e.user.ID.String())
	var trades []models.Trade
	decodeData(t, w, &trades)
	assert.Len(t, trades, 1)

	w = e.do(t, http.MethodGet, "/api/v1/orders/"+order.ID.String()+"/audit", nil, e.user.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]interface{}
	decodeData(t, w, &entries)
	require.Len(t, entries, 3)
	assert.Equal(t, "order.created", entries[0]["action"])
	assert.Contains(t, entries[0], "timestamp")
}

func TestErrorMapping(t *testing.T) {
	e := setup(t)
	uid := e.user.ID.String()

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/orders", "{", http.StatusBadRequest, "ValidationError"},
		{"zero quantity", http.MethodPost, "/api/v1/orders", marketOrder("buy", "0"), http.StatusBadRequest, "ValidationError"},
		{"insufficient funds", http.MethodPost, "/api/v1/orders", marketOrder("buy", "1000"), http.StatusUnprocessableEntity, "InsufficientFunds"},
		{"insufficient position", http.MethodPost, "/api/v1/orders", marketOrder("sell", "1"), http.StatusUnprocessableEntity, "InsufficientPosition"},
		{"unknown order", http.MethodGet, "/api/v1/orders/" + uuid.NewString(), nil, http.StatusNotFound, "NotFound"},
		{"bad order id", http.MethodDelete, "/api/v1/orders/xyz", nil, http.StatusBadRequest, "ValidationError"},
		{"bad status filter", http.MethodGet, "/api/v1/orders?status=done", nil, http.StatusBadRequest, "ValidationError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, tc.method, tc.path, tc.body, uid)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			p := problem(t, w)
			assert.Equal(t, tc.kind, p["kind"])
			assert.EqualValues(t, tc.status, p["status"])
		})
	}
}

func TestNoPriceAndInvalidStateAreConflicts(t *testing.T) {
	e := setup(t)
	uid := e.user.ID.String()
	testutil.CreateAsset(t, e.db, "NOPX", "")

	w := e.do(t, http.MethodPost, "/api/v1/orders",
		map[string]interface{}{"symbol": "NOPX", "type": "market", "side": "buy", "quantity": "1"}, uid)
	assert.Equal(t, http.StatusConflict, w.Code)
	p := problem(t, w)
	assert.Equal(t, "NoPriceAvailable", p["kind"])
	assert.Equal(t, models.OrderStatusPending, p["orderStatus"])
	pendingID, ok := p["orderId"].(string)
	require.True(t, ok)

	w = e.do(t, http.MethodGet, "/api/v1/orders/"+pendingID, nil, uid)
	require.Equal(t, http.StatusOK, w.Code)
	var pending models.Order
	decodeData(t, w, &pending)
	assert.Equal(t, models.OrderStatusPending, pending.Status)
	assert.Equal(t, "NOPX", pending.Symbol)

	w = e.do(t, http.MethodPost, "/api/v1/orders", marketOrder("buy", "1"), uid)
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decodeData(t, w, &order)

	w = e.do(t, http.MethodDelete, "/api/v1/orders/"+order.ID.String(), nil, uid)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidState", problem(t, w)["kind"])
}

func TestCancelRestingOrder(t *testing.T) {
	e := setup(t)
	uid := e.user.ID.String()
	w := e.do(t, http.MethodPost, "/api/v1/orders",
		map[string]interface{}{"symbol": "ABC", "type": "limit", "side": "buy", "quantity": "1", "price": "90"}, uid)
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decodeData(t, w, &order)
	assert.Equal(t, models.OrderStatusOpen, order.Status)

	other := testutil.CreateUser(t, e.db, "0")
	w = e.do(t, http.MethodDelete, "/api/v1/orders/"+order.ID.String(), nil, other.ID.String())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/orders/"+order.ID.String(), nil, uid)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &order)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	w = e.do(t, http.MethodGet, "/api/v1/orders?status=cancelled", nil, uid)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.Order
	decodeData(t, w, &orders)
	assert.Len(t, orders, 1)

	w = e.do(t, http.MethodGet, "/api/v1/orders?symbol=abc", nil, uid)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &orders)
	assert.Len(t, orders, 1)
}

func TestMarketEndpoints(t *testing.T) {
	e := setup(t)
	store := marketdata.NewStore(e.db)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertHistory(context.Background(), &models.MarketData{
			AssetID:   e.asset.ID,
			Symbol:    "ABC",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}

	w := e.do(t, http.MethodGet, "/api/v1/market/assets", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var assets []models.Asset
	decodeData(t, w, &assets)
	require.Len(t, assets, 1)
	assert.Equal(t, "ABC", assets[0].Symbol)

	w = e.do(t, http.MethodGet, "/api/v1/market/history/abc?limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.MarketData
	decodeData(t, w, &rows)
	assert.Len(t, rows, 2)

	w = e.do(t, http.MethodGet, "/api/v1/market/history/ABC?since=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketBindsCaller(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/v1/ws?userId="+e.user.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, e.user.ID.String(), e.hub.userID)
}

func TestWebSocketAllowsAnonymousMarketData(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/v1/ws", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, e.hub.calls)
	assert.Equal(t, "", e.hub.userID)

	w = e.do(t, http.MethodGet, "/api/v1/ws?userId=nope", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", problem(t, w)["kind"])
	assert.Equal(t, 1, e.hub.calls)
}

func TestUnknownRouteIsProblem(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", problem(t, w)["kind"])
}
