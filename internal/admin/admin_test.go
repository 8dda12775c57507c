package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/auth"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-business-bridge/pkg/whatsapp"
)

type fakeStats struct{}

func (fakeStats) Stats() domain.Stats {
	return domain.Stats{Total: 3, Connected: 2, ByPhase: map[domain.Phase]int{domain.PhaseConnected: 2, domain.PhaseReconnecting: 1}}
}

type fakeVersions struct {
	forced []bool
	err    error
}

func (f *fakeVersions) Status() pkgWhatsApp.VersionStatus {
	return pkgWhatsApp.VersionStatus{CurrentVersion: "2.3000.1"}
}

func (f *fakeVersions) Refresh(_ context.Context, force bool) (pkgWhatsApp.VersionStatus, bool, error) {
	f.forced = append(f.forced, force)
	return f.Status(), force, f.err
}

func newApp(a *auth.Authenticator, v *fakeVersions) *fiber.App {
	ctl := New(fakeStats{}, a, v, func() bool { return true })
	app := fiber.New()
	app.Post("/admin/tokens", ctl.CreateToken)
	app.Get("/admin/stats", ctl.GetStats)
	app.Get("/admin/whatsapp/version", ctl.GetWhatsAppVersion)
	app.Post("/admin/whatsapp/version/refresh", ctl.RefreshWhatsAppVersion)
	return app
}

func decode(t *testing.T, resp *http.Response, data any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, data))
}

func TestCreateToken(t *testing.T) {
	a := auth.New("jwt-secret", "admin-secret")
	app := newApp(a, &fakeVersions{})

	req := httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(`{"account_id":"acct-9","ttl_seconds":3600}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res ResponseToken
	decode(t, resp, &res)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *res.ExpiresAt, time.Minute)

	claims, err := a.ValidateAccountToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "acct-9", claims.AccountID)

	for _, body := range []string{`{}`, `{"account_id":"bad id"}`, `{"account_id":"acct-9","ttl_seconds":-1}`} {
		req := httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestGetStats(t *testing.T) {
	app := newApp(auth.New("s", "a"), &fakeVersions{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/stats", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res ResponseStats
	decode(t, resp, &res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Connected)
	assert.Equal(t, 1, res.ByPhase[domain.PhaseReconnecting])
	assert.True(t, res.WebhookEnabled)
	assert.Equal(t, "2.3000.1", res.WhatsApp.CurrentVersion)
}

func TestRefreshWhatsAppVersion(t *testing.T) {
	v := &fakeVersions{}
	app := newApp(auth.New("s", "a"), v)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/admin/whatsapp/version/refresh?force=true", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/admin/whatsapp/version/refresh", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{true, false}, v.forced)

	v.err = errors.New("upstream down")
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/admin/whatsapp/version/refresh?force=true", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
