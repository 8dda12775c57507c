package index

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/", Index)
	app.Get("/ok", Health(pinger{}))
	app.Get("/down", Health(pinger{err: errors.New("refused")}))

	for path, code := range map[string]int{
		"/":     http.StatusOK,
		"/ok":   http.StatusOK,
		"/down": http.StatusServiceUnavailable,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, code, resp.StatusCode, path)
	}
}
