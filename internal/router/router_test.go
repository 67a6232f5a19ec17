package router

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"spark/config"
	"spark/internal/auth"
	"spark/internal/domain"
	"spark/internal/models"
	"spark/internal/repository"
	"spark/internal/service"
	"spark/internal/ws"
	"spark/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	engine *gin.Engine
	users  *repository.MemUserStore
	notes  *repository.MemNotificationStore
	audit  *repository.MemAuditStore
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithGateway(t, payment.StubGateway{})
}

func newTestServerWithGateway(t *testing.T, gateway payment.Verifier) *testServer {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.JWT.AccessSecret = "test-secret"
	cfg.Payment.WebhookSecret = "whsec"
	cfg.Server.RateLimit = 0

	users := repository.NewMemUserStore()
	txs := repository.NewMemTransactionStore()
	notes := repository.NewMemNotificationStore()
	audit := repository.NewMemAuditStore()
	hub := ws.NewHub()
	eng := service.NewEngine(cfg, users, txs, notes, repository.NewMemSettingStore(), hub, nil)

	return &testServer{
		t:   t,
		cfg: cfg,
		engine: Setup(cfg, Deps{
			Engine:        eng,
			Hub:           hub,
			Users:         users,
			Notifications: notes,
			Audit:         audit,
			Gateway:       gateway,
		}),
		users: users,
		notes: notes,
		audit: audit,
	}
}

func (s *testServer) addUser(id uint, email string, opts ...func(*models.User)) {
	u := &models.User{ID: id, Username: email, Email: email, AvailableConnectionsLeftToBuy: 3}
	for _, o := range opts {
		o(u)
	}
	require.NoError(s.t, s.users.Create(context.Background(), u))
}

func (s *testServer) do(method, path string, userID uint, role string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		tok, err := auth.GenerateAccessToken(&s.cfg.JWT, userID, "", role)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/metrics", 0, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodGet, "/api/v1/me/connections", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConnectionFlow(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com", func(u *models.User) { u.AllowedConnections = 1 })
	s.addUser(2, "b@example.com")
	s.addUser(3, "c@example.com")

	w, body := s.do(http.MethodPost, "/api/v1/connections/requests/2", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["target_id"])

	w, body = s.do(http.MethodPost, "/api/v1/connections/requests/3", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.CodeRequestPending, body["code"])

	w, body = s.do(http.MethodGet, "/api/v1/me/requesters", 2, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["requesters"], 1)

	w, _ = s.do(http.MethodPost, "/api/v1/connections/requests/1/accept", 2, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = s.do(http.MethodGet, "/api/v1/me/relationships", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{float64(2)}, body["connections"])
	tickets := body["tickets"].(map[string]interface{})
	assert.EqualValues(t, 0, tickets["allowed_connections"])

	w, body = s.do(http.MethodGet, "/api/v1/me/notifications", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := body["notifications"].([]interface{})
	require.Len(t, list, 1)
	note := list[0].(map[string]interface{})
	assert.Equal(t, domain.EventRequestAccepted, note["type"])

	w, _ = s.do(http.MethodPut, "/api/v1/me/notifications/"+jsonNumber(note["id"])+"/read", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/connections/2/cancel", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoTicketsIsPaymentRequired(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")
	s.addUser(2, "b@example.com")

	w, body := s.do(http.MethodPost, "/api/v1/connections/requests/2", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, domain.CodeNoConnections, body["code"])

	w, body = s.do(http.MethodGet, "/api/v1/me/can-send-request", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["can_send"])

	w, _ = s.do(http.MethodPost, "/api/v1/connections/requests/abc", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLikesEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")
	s.addUser(2, "b@example.com")

	_, _ = s.do(http.MethodPut, "/api/v1/likes", 2, domain.RoleUser, gin.H{"likes": []uint{1}})
	w, body := s.do(http.MethodPut, "/api/v1/likes", 1, domain.RoleUser, gin.H{"likes": []uint{2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []interface{}{float64(2)}, body["matches"])

	w, body = s.do(http.MethodPut, "/api/v1/likes", 1, domain.RoleUser, gin.H{"likes": []uint{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeSelfTarget, body["code"])
}

func TestBlockEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com", func(u *models.User) { u.AllowedConnections = 1 })
	s.addUser(2, "b@example.com")

	w, _ := s.do(http.MethodPost, "/api/v1/block/1", 2, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, body := s.do(http.MethodPost, "/api/v1/connections/requests/2", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.CodeBlocked, body["code"])

	w, _ = s.do(http.MethodDelete, "/api/v1/block/1", 2, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, "/api/v1/connections/requests/2", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")

	body := []byte(`{"reference":"ref-1","amount_cents":2500,"payer_email":"a@example.com","status":"success"}`)
	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", sig)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("deadbeef"))
	assert.Equal(t, http.StatusOK, post(sign("whsec", body)))
	assert.Equal(t, http.StatusOK, post(sign("whsec", body)))

	u, err := s.users.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), u.BalanceCents)

	rejected, err := s.audit.List(context.Background(), "payment_webhook_rejected", 10, 0)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
	reconciled, err := s.audit.List(context.Background(), "payment_reconciled", 10, 0)
	require.NoError(t, err)
	require.Len(t, reconciled, 2)
	assert.Equal(t, "ref-1", reconciled[0].ResourceID)
	require.NotNil(t, reconciled[0].UserID)
	assert.Equal(t, uint(1), *reconciled[0].UserID)
}

type fixedGateway struct {
	v payment.Verification
}

func (g fixedGateway) Verify(_ context.Context, reference string) (*payment.Verification, error) {
	if reference != g.v.Reference {
		return nil, payment.ErrUnknownReference
	}
	v := g.v
	return &v, nil
}

func TestVerify_OnlyThePayerIsCredited(t *testing.T) {
	s := newTestServerWithGateway(t, fixedGateway{v: payment.Verification{
		Reference:   "pay-123",
		AmountCents: 5000,
		PayerEmail:  "victim@example.com",
		Status:      "success",
	}})
	s.addUser(1, "attacker@example.com")
	s.addUser(2, "victim@example.com")

	w, body := s.do(http.MethodPost, "/api/v1/payments/verify", 1, domain.RoleUser, gin.H{"reference": "pay-123"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, domain.CodePayerMismatch, body["code"])
	assert.Nil(t, body["transaction"])

	hook := []byte(`{"reference":"pay-123","amount_cents":5000,"payer_email":"victim@example.com","status":"success"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(hook))
	req.Header.Set("X-Webhook-Signature", sign("whsec", hook))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/payments/verify", 2, domain.RoleUser, gin.H{"reference": "pay-123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	attacker, err := s.users.Get(context.Background(), 1)
	require.NoError(t, err)
	victim, err := s.users.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, attacker.BalanceCents)
	assert.Equal(t, int64(5000), victim.BalanceCents)

	refused, err := s.audit.List(context.Background(), "payment_verify_refused", 10, 0)
	require.NoError(t, err)
	assert.Len(t, refused, 1)
}

func TestVerifyAndPurchase(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")

	w, _ := s.do(http.MethodPost, "/api/v1/payments/verify", 1, domain.RoleUser, gin.H{"reference": "stub_100000_x"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(http.MethodPost, "/api/v1/payments/verify", 1, domain.RoleUser, gin.H{"reference": "stub_100000_x"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/payments/verify", 1, domain.RoleUser, gin.H{"reference": "unknown"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/connections/purchase", 1, domain.RoleUser, gin.H{"quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := s.do(http.MethodGet, "/api/v1/me/can-send-request", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["allowed_connections"])
	assert.EqualValues(t, 1, body["available_connections_left_to_buy"])

	w, body = s.do(http.MethodGet, "/api/v1/me/transactions", 1, domain.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["transactions"], 2)

	w, body = s.do(http.MethodPost, "/api/v1/connections/purchase", 1, domain.RoleUser, gin.H{"quantity": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.CodeTicketCap, body["code"])
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com", func(u *models.User) { u.Likers = models.IDSet{2} })
	s.addUser(2, "b@example.com")

	w, _ := s.do(http.MethodPost, "/api/v1/admin/sweep", 1, domain.RoleUser, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := s.do(http.MethodPost, "/api/v1/admin/sweep/1", 9, domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["stale_likers"])

	w, body = s.do(http.MethodPost, "/api/v1/admin/sweep", 9, domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["users"])

	w, body = s.do(http.MethodGet, "/api/v1/admin/audit", 9, domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries, ok := body["entries"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, "admin_sweep", entries[0].(map[string]interface{})["action"])
	assert.Equal(t, "admin_repair", entries[1].(map[string]interface{})["action"])
}

func TestAdminConnectionPrice(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")

	w, _ := s.do(http.MethodPut, "/api/v1/admin/settings/connection-price", 1, domain.RoleUser, gin.H{"price_cents": 100})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPut, "/api/v1/admin/settings/connection-price", 9, domain.RoleAdmin, gin.H{"price_cents": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPut, "/api/v1/admin/settings/connection-price", 9, domain.RoleAdmin, gin.H{"price_cents": 10000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := s.do(http.MethodGet, "/api/v1/admin/settings", 9, domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{domain.SettingConnectionPrice: "10000"}, body["settings"])

	w, _ = s.do(http.MethodPost, "/api/v1/payments/verify", 1, domain.RoleUser, gin.H{"reference": "stub_30000_y"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(http.MethodPost, "/api/v1/connections/purchase", 1, domain.RoleUser, gin.H{"quantity": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u, err := s.users.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.BalanceCents)
	assert.Equal(t, 3, u.AllowedConnections)

	changes, err := s.audit.List(context.Background(), "admin_set_price", 10, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestDeviceToken(t *testing.T) {
	s := newTestServer(t)
	s.addUser(1, "a@example.com")

	w, _ := s.do(http.MethodPost, "/api/v1/me/device-token", 1, domain.RoleUser, gin.H{"token": "fcm-1"})
	require.Equal(t, http.StatusOK, w.Code)
	u, err := s.users.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "fcm-1", u.FCMToken)

	w, _ = s.do(http.MethodPost, "/api/v1/me/device-token", 42, domain.RoleUser, gin.H{"token": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func jsonNumber(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

