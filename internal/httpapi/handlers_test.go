package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/crewtrack/crewtrack/internal/directory"
	"github.com/crewtrack/crewtrack/internal/identity"
	"github.com/crewtrack/crewtrack/internal/presence"
	"github.com/crewtrack/crewtrack/internal/router"
	"github.com/crewtrack/crewtrack/internal/sampler"
	"github.com/crewtrack/crewtrack/internal/session"
	memorystore "github.com/crewtrack/crewtrack/internal/store/memory"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testJoinKey = "manager-join-key"
)

type testAPI struct {
	ts       *httptest.Server
	presence *presence.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	directorySvc := directory.NewService(memorystore.NewDirectoryStore(), testJoinKey)
	presenceStore := presence.NewStore()
	policy := sampler.DefaultPolicy()

	gateway := sampler.NewReportGateway(time.Minute)
	mgr := sampler.NewManager(policy, gateway, sampler.NewTickerScheduler(ctx), presenceStore)
	engine := session.NewEngine(presenceStore, mgr, gateway, directorySvc)

	rtr := router.New(presenceStore, directorySvc, directorySvc, router.DefaultOptions())
	rtr.Start(ctx)
	t.Cleanup(rtr.Stop)

	tokens, err := identity.NewTokens([]byte(testSecret), "crewtrack", time.Hour)
	require.NoError(t, err)

	api := NewServer(Config{
		Identity:  identity.NewMemoryProvider(),
		Tokens:    tokens,
		Directory: directorySvc,
		Engine:    engine,
		Router:    rtr,
		Presence:  presenceStore,
		Gateway:   gateway,
		Policy:    policy,
	})

	ts := httptest.NewServer(api.Handler(zerolog.Nop(), []string{"*"}))
	t.Cleanup(ts.Close)

	return &testAPI{ts: ts, presence: presenceStore}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

// signUp registers an account and returns its user ID and bearer token.
func (a *testAPI) signUp(t *testing.T, email string) (string, string) {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["user_id"].(string), body["token"].(string)
}

func (a *testAPI) createOrg(t *testing.T, token, name string) string {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/v1/orgs", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["org_id"].(string)
}

// reportPosition pushes a fix with both permission grants.
func (a *testAPI) reportPosition(t *testing.T, token string, lat, lon float64) {
	t.Helper()

	resp, _ := a.do(t, http.MethodPost, "/v1/positions", token, map[string]any{
		"latitude":   lat,
		"longitude":  lon,
		"foreground": true,
		"background": true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestAccountsAndLogin(t *testing.T) {
	t.Run("sign up and log in", func(t *testing.T) {
		api := newTestAPI(t)
		userID, _ := api.signUp(t, "sam@example.com")

		resp, body := api.do(t, http.MethodPost, "/v1/login", "", map[string]string{
			"email":    "sam@example.com",
			"password": "hunter22",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, userID, body["user_id"])
		require.NotEmpty(t, body["token"])
	})

	t.Run("duplicate account conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		api.signUp(t, "sam@example.com")

		resp, _ := api.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
			"email":    "sam@example.com",
			"password": "other",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		api := newTestAPI(t)
		api.signUp(t, "sam@example.com")

		resp, _ := api.do(t, http.MethodPost, "/v1/login", "", map[string]string{
			"email":    "sam@example.com",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("protected routes require a token", func(t *testing.T) {
		api := newTestAPI(t)
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs", "", map[string]string{"name": "acme"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = api.do(t, http.MethodPost, "/v1/orgs", "garbage-token", map[string]string{"name": "acme"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestOrganizations(t *testing.T) {
	t.Run("create and join", func(t *testing.T) {
		api := newTestAPI(t)
		_, managerToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, managerToken, "acme")

		_, workerToken := api.signUp(t, "sam@example.com")
		resp, body := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "worker", body["role"])
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		_, token := api.signUp(t, "boss@example.com")
		api.createOrg(t, token, "acme")

		_, other := api.signUp(t, "other@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs", other, map[string]string{"name": "acme"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("manager join needs the key", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		_, token := api.signUp(t, "second@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/managers", token, map[string]string{"password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, body := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/managers", token, map[string]string{"password": testJoinKey})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "manager", body["role"])
	})

	t.Run("member listing is manager only", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		workerID, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = api.do(t, http.MethodPut, "/v1/profile", workerToken, map[string]string{
			"name":      "Sam",
			"phone":     "555-0100",
			"job_title": "Electrician",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, body := api.do(t, http.MethodGet, "/v1/orgs/"+orgID+"/members", bossToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		members := body["members"].([]any)
		require.Len(t, members, 2)

		found := false
		for _, m := range members {
			entry := m.(map[string]any)
			if entry["user_id"] == workerID {
				found = true
				require.Equal(t, "Sam", entry["name"])
			}
		}
		require.True(t, found)

		resp, _ = api.do(t, http.MethodGet, "/v1/orgs/"+orgID+"/members", workerToken, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("revocation is manager only", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		workerID, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = api.do(t, http.MethodDelete, "/v1/orgs/"+orgID+"/members/"+workerID, workerToken, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = api.do(t, http.MethodDelete, "/v1/orgs/"+orgID+"/members/"+workerID, bossToken, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestCheckInFlow(t *testing.T) {
	t.Run("full shift lifecycle", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		_, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		api.reportPosition(t, workerToken, -27.47, 153.02)

		resp, body := api.do(t, http.MethodPost, "/v1/checkin", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "checked_in", body["status"])
		require.NotEmpty(t, body["check_in_time"])

		// Checking in again is a notice, not an error.
		resp, body = api.do(t, http.MethodPost, "/v1/checkin", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "already checked in", body["notice"])

		resp, body = api.do(t, http.MethodPost, "/v1/checkout", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "checked_out", body["status"])
		require.Nil(t, body["sample"])

		resp, body = api.do(t, http.MethodPost, "/v1/checkout", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "already checked out", body["notice"])
	})

	t.Run("check in without permission grants is forbidden", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		_, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// The device never reported, so no grants are on record.
		resp, _ = api.do(t, http.MethodPost, "/v1/checkin", workerToken, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("check in without an organization conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		_, workerToken := api.signUp(t, "sam@example.com")
		api.reportPosition(t, workerToken, -27.47, 153.02)

		resp, _ := api.do(t, http.MethodPost, "/v1/checkin", workerToken, nil)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("out of range coordinates are rejected", func(t *testing.T) {
		api := newTestAPI(t)
		_, token := api.signUp(t, "sam@example.com")

		resp, _ := api.do(t, http.MethodPost, "/v1/positions", token, map[string]any{
			"latitude":  91.0,
			"longitude": 0.0,
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWatchStream(t *testing.T) {
	t.Run("manager sees org events over SSE", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		workerID, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		api.reportPosition(t, workerToken, -27.47, 153.02)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.ts.URL+"/v1/orgs/"+orgID+"/watch", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+bossToken)

		watchResp, err := api.ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = watchResp.Body.Close() }()
		require.Equal(t, http.StatusOK, watchResp.StatusCode)
		require.Equal(t, "text/event-stream", watchResp.Header.Get("Content-Type"))

		resp, _ = api.do(t, http.MethodPost, "/v1/checkin", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		ev := readSSEEvent(t, bufio.NewScanner(watchResp.Body))
		require.Equal(t, "session_changed", ev["type"])
		require.Equal(t, workerID, ev["worker_id"])
		p := ev["presence"].(map[string]any)
		require.Equal(t, "checked_in", p["status"])
	})

	t.Run("non manager cannot watch", func(t *testing.T) {
		api := newTestAPI(t)
		_, bossToken := api.signUp(t, "boss@example.com")
		orgID := api.createOrg(t, bossToken, "acme")

		_, workerToken := api.signUp(t, "sam@example.com")
		resp, _ := api.do(t, http.MethodPost, "/v1/orgs/"+orgID+"/workers", workerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = api.do(t, http.MethodGet, "/v1/orgs/"+orgID+"/watch", workerToken, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

// readSSEEvent scans lines until one event's data payload is decoded.
func readSSEEvent(t *testing.T, scanner *bufio.Scanner) map[string]any {
	t.Helper()

	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(data), &decoded))
			return decoded
		}
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
	return nil
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	resp, err := api.ts.Client().Get(api.ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "x-forwarded-for first hop wins",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1") },
			expect: "203.0.113.7",
		},
		{
			name:   "x-real-ip fallback",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "203.0.113.9") },
			expect: "203.0.113.9",
		},
		{
			name:   "remote addr strips port",
			setup:  func(r *http.Request) {},
			expect: "192.0.2.1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "192.0.2.1:1234"
			tc.setup(r)
			require.Equal(t, tc.expect, ExtractClientIP(r))
		})
	}
}
