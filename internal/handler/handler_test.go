package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adledger/internal/config"
	"adledger/internal/infrastructure/lock"
	"adledger/internal/model"
	"adledger/internal/service"
	"adledger/internal/store/memstore"
	"adledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "hook-secret"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
}

func newTestServer(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()

	s := memstore.New()
	logger := zerolog.Nop()
	locker := lock.NewLocalLocker()
	opts := service.Options{StoreTimeout: time.Second}

	reservations := service.NewReservationService(s, locker, opts, logger)
	incidents := service.NewIncidentReporter(s, "ledger_incidents", time.Second, logger)
	accounts := service.NewAccountService(s, locker, opts, logger)
	campaigns := service.NewCampaignService(s, reservations, incidents, opts, logger)

	cfg := &config.Config{
		Auth:      config.AuthConfig{JWTSecret: testJWTSecret, WebhookSecret: testWebhookSecret},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	h := NewHandler(accounts, campaigns, health, logger)
	return &testServer{router: SetupRouter(h, cfg, logger), store: s}
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := NewToken(testJWTSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func (s *testServer) topUp(t *testing.T, userID, amount int64, ref string) {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", "",
		service.ChargeRequest{UserID: userID, Amount: amount, ReferenceID: ref},
		headerWebhookSecret, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	rec, _ := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	srv = newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, _ = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, env := srv.do(t, http.MethodGet, "/api/v1/ledger/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	forged, err := NewToken("other-secret", 1, "", time.Hour)
	require.NoError(t, err)
	rec, _ = srv.do(t, http.MethodGet, "/api/v1/ledger/balance", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := NewToken(testJWTSecret, 1, "", -time.Minute)
	require.NoError(t, err)
	rec, _ = srv.do(t, http.MethodGet, "/api/v1/ledger/balance", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	srv := newTestServer(t, nil)
	charge := service.ChargeRequest{UserID: 1, Amount: 500, ReferenceID: "pay_1"}

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", charge, headerWebhookSecret, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	srv.topUp(t, 1, 500, "pay_1")
	srv.topUp(t, 1, 500, "pay_1")

	_, env := srv.do(t, http.MethodGet, "/api/v1/ledger/balance", token(t, 1, ""), nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var balance service.BalanceView
	require.NoError(t, json.Unmarshal(env.Data, &balance))
	assert.Equal(t, int64(500), balance.AvailableCredit, "redelivery does not double count")
}

func TestCreateCampaign_InsufficientFunds(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.topUp(t, 1, 1000, "pay_1")

	_, env := srv.do(t, http.MethodPost, "/api/v1/campaigns", token(t, 1, ""), service.CampaignSpec{
		Name: "launch", EstimatedTotalCost: 1500,
	})
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)

	var data struct {
		Shortfall     int64 `json:"shortfall"`
		TopUpRequired bool  `json:"top_up_required"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(500), data.Shortfall)
	assert.True(t, data.TopUpRequired)
}

func TestCampaignLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.topUp(t, 1, 1000, "pay_1")
	user := token(t, 1, "")
	admin := token(t, 99, RoleAdmin)

	_, env := srv.do(t, http.MethodPost, "/api/v1/campaigns", user, service.CampaignSpec{
		Name: "launch", EstimatedTotalCost: 400, Targets: []string{"vip"},
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var created model.Campaign
	require.NoError(t, json.Unmarshal(env.Data, &created))
	path := "/api/v1/campaigns/" + jsonInt(created.ID)

	_, env = srv.do(t, http.MethodGet, path, user, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = srv.do(t, http.MethodGet, path, token(t, 2, ""), nil)
	assert.Equal(t, response.CodeCampaignNotFound, env.Code)

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/admin"+path[len("/api/v1"):]+"/approve", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, env = srv.do(t, http.MethodPost, path+"/cancel", user, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = srv.do(t, http.MethodPost, path+"/resubmit", user, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = srv.do(t, http.MethodPost, "/api/v1/admin"+path[len("/api/v1"):]+"/reject", admin, RejectRequest{Reason: "tone"})
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = srv.do(t, http.MethodDelete, path, user, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var receipt service.ReleaseReceipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, int64(400), receipt.CreditReleased)

	_, env = srv.do(t, http.MethodGet, path, user, nil)
	assert.Equal(t, response.CodeCampaignNotFound, env.Code)
}

func TestDeleteApprovedCampaign(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.topUp(t, 1, 1000, "pay_1")
	user := token(t, 1, "")

	_, env := srv.do(t, http.MethodPost, "/api/v1/campaigns", user, service.CampaignSpec{Name: "x", EstimatedTotalCost: 100})
	var created model.Campaign
	require.NoError(t, json.Unmarshal(env.Data, &created))
	id := jsonInt(created.ID)

	_, env = srv.do(t, http.MethodPost, "/api/v1/admin/campaigns/"+id+"/approve", token(t, 99, RoleAdmin), nil)
	require.Equal(t, response.CodeSuccess, env.Code)

	_, env = srv.do(t, http.MethodDelete, "/api/v1/campaigns/"+id, user, nil)
	assert.Equal(t, response.CodeCampaignStatusInvalid, env.Code)
}

func TestAdminAdjustment(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := token(t, 99, RoleAdmin)

	_, env := srv.do(t, http.MethodPost, "/api/v1/admin/ledger/adjustments", admin, service.AdjustmentRequest{
		UserID: 1, Kind: model.KindCharge, FundType: model.FundPoint, Amount: 300, Reason: "promo",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = srv.do(t, http.MethodPost, "/api/v1/admin/ledger/adjustments", admin, service.AdjustmentRequest{
		UserID: 1, Kind: model.KindPenalty, Amount: 1, Reason: "chargeback",
	})
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)

	_, env = srv.do(t, http.MethodGet, "/api/v1/ledger/transactions", token(t, 1, ""), nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
}

func TestInvalidCampaignID(t *testing.T) {
	srv := newTestServer(t, nil)
	_, env := srv.do(t, http.MethodGet, "/api/v1/campaigns/abc", token(t, 1, ""), nil)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 1))
	r.GET("/x", func(c *gin.Context) { response.Success(c, nil) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(zerolog.Nop()), LoggerMiddleware(zerolog.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(headerRequestID, "req-1")
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(headerRequestID))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
