package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fotofeed-core/config"
	httpHandler "fotofeed-core/internal/adapter/http/handler"
	redisStorage "fotofeed-core/internal/adapter/storage/redis"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/metrics"
	"fotofeed-core/internal/service"
	"fotofeed-core/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProvider        = "payhub"
	testWebhookSecret   = "payhub-secret"
	testSchedulerSecret = "sched-secret"
	testOpsPassword     = "ops-test-password"
)

// testApp builds the full application stack on in-memory storage: miniredis
// behind the real replay cache, mutex-guarded repos behind the real services,
// and the real HTTP layer on top. Only the collaborator engines are stubbed.
type testApp struct {
	server       *httptest.Server
	redis        *miniredis.Miniredis
	events       *inMemoryEventRepo
	jobs         *inMemoryJobRepo
	redemptions  *inMemoryRedemptionRepo
	entitlements *inMemoryEntitlementRepo
	photos       *inMemoryPhotoStateRepo
	faceEngine   *stubFaceEngine
	queueCfg     config.QueueConfig
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	app := &testApp{
		redis:        mr,
		events:       newInMemoryEventRepo(),
		jobs:         newInMemoryJobRepo(),
		redemptions:  newInMemoryRedemptionRepo(),
		entitlements: newInMemoryEntitlementRepo(),
		photos:       newInMemoryPhotoStateRepo(),
		faceEngine:   &stubFaceEngine{},
		queueCfg: config.QueueConfig{
			BatchSize:    10,
			MaxAttempts:  3,
			PollBudget:   5 * time.Second,
			ClaimLease:   5 * time.Minute,
			NormalShare:  0.2,
			RetryBackoff: time.Minute,
			ReplayTTL:    time.Hour,
		},
	}

	log := logger.New("debug", false)
	m := metrics.New(prometheus.NewRegistry())

	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 12*time.Hour, "test-issuer")

	passwordHash, err := hashSvc.Hash(testOpsPassword)
	require.NoError(t, err)
	opsAuthSvc := service.NewOpsAuth("admin", passwordHash, hashSvc, tokenSvc, log)

	ledgerSvc := service.NewEventLedgerService(app.events, redisStorage.NewReplayCache(rdb), m, log, app.queueCfg.ReplayTTL)
	applier := service.NewEntitlementApplier(app.entitlements, log)
	queueSvc := service.NewWorkQueueService(app.jobs, []ports.JobHandler{
		service.NewFaceIndexHandler(app.photos, app.faceEngine, log),
		service.NewPreviewHandler(app.photos, &stubPreviewEngine{}, log),
	}, app.queueCfg, m, log)
	redemptionSvc := service.NewRedemptionService(app.redemptions, &inMemoryTransactor{}, m, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:          ledgerSvc,
		Applier:         applier,
		Queue:           queueSvc,
		Redemptions:     redemptionSvc,
		OpsAuthSvc:      opsAuthSvc,
		TokenSvc:        tokenSvc,
		SigSvc:          sigSvc,
		WebhookSecrets:  map[string]string{testProvider: testWebhookSecret},
		SchedulerSecret: testSchedulerSecret,
		QueueCfg:        app.queueCfg,
		Logger:          log,
	})

	app.server = httptest.NewServer(router)
	t.Cleanup(func() {
		app.server.Close()
		rdb.Close()
		mr.Close()
	})
	return app
}

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (app *testApp) postWebhook(t *testing.T, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/webhooks/"+testProvider, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signBody(testWebhookSecret, body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (app *testApp) postInternal(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, app.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scheduler-Secret", testSchedulerSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (app *testApp) opsToken(t *testing.T) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":"admin","password":%q}`, testOpsPassword)
	resp, err := http.Post(app.server.URL+"/api/v1/ops/login", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.Data.Token)
	return parsed.Data.Token
}

func (app *testApp) opsGet(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, app.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestWebhookDelivery_GrantsEntitlementOnce(t *testing.T) {
	app := newTestApp(t)
	body := `{"id":"evt_100","type":"purchase.completed","data":{"order_ref":"ord-100","user_id":"u-1","gallery_id":"g-1"}}`

	// First delivery applies the effect.
	resp := app.postWebhook(t, body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ent, err := app.entitlements.GetByOrderRef(context.Background(), "ord-100")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, "u-1", ent.UserID)

	// Redelivery is a replay: still 200, still exactly one entitlement.
	resp = app.postWebhook(t, body)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"replay":true`)
}

func TestWebhookDelivery_BadSignatureRejected(t *testing.T) {
	app := newTestApp(t)
	body := `{"id":"evt_101","type":"purchase.completed","data":{}}`

	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/webhooks/"+testProvider, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Signature", "forged")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Nothing reached the ledger.
	entry, err := app.events.GetByIdentity(context.Background(), testProvider, "evt_101")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestWebhookDelivery_UnknownProvider(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Post(app.server.URL+"/api/v1/webhooks/ghost", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookDelivery_RefundRevokes(t *testing.T) {
	app := newTestApp(t)

	purchase := `{"id":"evt_200","type":"purchase.completed","data":{"order_ref":"ord-200","user_id":"u-2"}}`
	resp := app.postWebhook(t, purchase)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refund := `{"id":"evt_201","type":"purchase.refunded","data":{"order_ref":"ord-200"}}`
	resp = app.postWebhook(t, refund)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ent, err := app.entitlements.GetByOrderRef(context.Background(), "ord-200")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, "REVOKED", string(ent.Status))
}

func TestPhotoPipeline_EndToEnd(t *testing.T) {
	app := newTestApp(t)

	// The upload pipeline schedules work.
	resp := app.postInternal(t, "/api/v1/photos/photo-9/process", `{"source_ref":"s3://bucket/photo-9"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The scheduler drains it.
	resp = app.postInternal(t, "/api/v1/scheduler/poll", "")
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Data ports.PollStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, 2, parsed.Data.Claimed)
	assert.Equal(t, 2, parsed.Data.Completed)

	state, err := app.photos.Get(context.Background(), "photo-9")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.FaceIndexed)
	assert.True(t, state.PreviewReady)
	assert.Equal(t, 1, state.IndexedFaces)
}

func TestPhotoPipeline_RequiresSchedulerSecret(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Post(app.server.URL+"/api/v1/photos/photo-9/process", "application/json",
		bytes.NewBufferString(`{"source_ref":"s3://bucket/photo-9"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeadLetter_SurfacesOnOpsEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.faceEngine.fail = true

	resp := app.postInternal(t, "/api/v1/photos/photo-dead/process", `{"source_ref":"s3://bucket/photo-dead"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Each poll runs at most one attempt; the retry backoff keeps the job out
	// of the pool until the next scheduler tick.
	for i := 0; i < app.queueCfg.MaxAttempts; i++ {
		resp = app.postInternal(t, "/api/v1/scheduler/poll", "")
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, i+1, app.faceEngine.callCount())
		app.jobs.expireBackoffs()
	}

	token := app.opsToken(t)
	opsResp := app.opsGet(t, "/api/v1/ops/jobs/dead-letter", token)
	raw, _ := io.ReadAll(opsResp.Body)
	opsResp.Body.Close()
	require.Equal(t, http.StatusOK, opsResp.StatusCode)

	var parsed struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, 1, parsed.Data.Count)
}

func TestOpsReplay_FailedEvent(t *testing.T) {
	app := newTestApp(t)

	// order_ref missing: the applier rejects it and the entry lands in FAILED.
	bad := `{"id":"evt_300","type":"purchase.completed","data":{"user_id":"u-3"}}`
	resp := app.postWebhook(t, bad)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	token := app.opsToken(t)
	listResp := app.opsGet(t, "/api/v1/ops/events/failed", token)
	raw, _ := io.ReadAll(listResp.Body)
	listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var parsed struct {
		Data struct {
			Events []struct {
				ID string `json:"id"`
			} `json:"events"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Equal(t, 1, parsed.Data.Count)

	// Replaying the same stored payload fails again and the entry stays FAILED.
	replayURL := app.server.URL + "/api/v1/ops/events/" + parsed.Data.Events[0].ID + "/replay"
	req, err := http.NewRequest(http.MethodPost, replayURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	replayResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	replayResp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, replayResp.StatusCode)

	entry, err := app.events.GetByIdentity(context.Background(), testProvider, "evt_300")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "FAILED", string(entry.Status))
}

func TestOpsEndpoints_RequireJWT(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/api/v1/ops/jobs/dead-letter")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRedemptionCommit_EndToEnd(t *testing.T) {
	app := newTestApp(t)
	app.redemptions.seedPromo("promo-1")

	body := `{
		"promo_code_id": "promo-1",
		"user_id": "user-1",
		"scope": "ORDER",
		"applied_amount_cents": 10000,
		"discount_cents": 1500,
		"final_amount_cents": 8500,
		"currency": "USD",
		"source_ref": "ord-42"
	}`

	resp := app.postInternal(t, "/api/v1/redemptions", body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Retry with the same checkout identity collapses onto the first record.
	resp = app.postInternal(t, "/api/v1/redemptions", body)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"duplicate":true`)

	assert.Equal(t, int64(1), app.redemptions.promoCount("promo-1"))
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
