package appliance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/positioning"
)

const statusBody = `{
	"username": "home@example.com",
	"pixiePoints": {
		"D78D11E03AC8": {"status": "Connected", "tagName": "door", "tagColor": "red", "range": {"DC955EBFD1C1": 200}},
		"DC955EBFD1C1": {"status": "Connected", "tagName": "window", "tagColor": "blue", "range": {"D78D11E03AC8": 200}},
		"keys": {"status": "Connected", "tagName": "Keys", "tagColor": "yellow", "range": {"D78D11E03AC8": 150, "DC955EBFD1C1": 150}}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchRawStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StatusPath, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statusBody))
	})

	raw, err := client.FetchRawStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "home@example.com", raw.Username)
	require.Len(t, raw.PixiePoints, 3)

	keys := raw.PixiePoints["keys"]
	assert.Equal(t, model.StatusConnected, keys.Status)
	assert.Equal(t, 150.0, keys.Range["DC955EBFD1C1"])
}

func TestFetchRawStatusNon2xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	raw, err := client.FetchRawStatus(context.Background())
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, positioning.ErrTransport)
}

func TestFetchRawStatusMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":`))
	})

	raw, err := client.FetchRawStatus(context.Background())
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, positioning.ErrTransport)
}

func TestFetchRawStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	raw, err := client.FetchRawStatus(context.Background())
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, positioning.ErrTransport)
}

func TestFetchRawStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	raw, err := client.FetchRawStatus(ctx)
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, positioning.ErrTransport)
}

func TestDecodeStatusValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing pixie points", body: `{"username":"u"}`},
		{name: "missing status", body: `{"username":"u","pixiePoints":{"keys":{"tagName":"Keys","range":{}}}}`},
		{name: "null point", body: `{"username":"u","pixiePoints":{"keys":null}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := DecodeStatus([]byte(tc.body))
			assert.Nil(t, raw)
			assert.ErrorIs(t, err, positioning.ErrDataIntegrity)
		})
	}
}

func TestDecodeStatusNullRanges(t *testing.T) {
	body := `{"username":"u","pixiePoints":{
		"D78D11E03AC8":{"status":"Connected","range":{"DC955EBFD1C1":200}},
		"DC955EBFD1C1":{"status":"Connected","range":{"D78D11E03AC8":200}},
		"keys":{"status":"Connected","range":{"D78D11E03AC8":null,"DC955EBFD1C1":200}}
	}}`

	raw, err := DecodeStatus([]byte(body))
	require.NoError(t, err)
	assert.NotContains(t, raw.PixiePoints["keys"].Range, "D78D11E03AC8")
	assert.Equal(t, 200.0, raw.PixiePoints["keys"].Range["DC955EBFD1C1"])

	engine := positioning.NewEngine([2]string{"D78D11E03AC8", "DC955EBFD1C1"}, model.Dimensions{X: 350, Y: 300}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := engine.ComputeLocations(raw)
	require.NoError(t, err)

	require.Len(t, result.Faults, 1)
	assert.Equal(t, "keys", result.Faults[0].Tag)
	assert.ErrorIs(t, result.Faults[0], positioning.ErrDataIntegrity)
	assert.Nil(t, result.Report.PixiePoints["keys"].Coordinates)
}

func TestDecodeStatusNullCrossDistance(t *testing.T) {
	body := `{"username":"u","pixiePoints":{
		"D78D11E03AC8":{"status":"Connected","range":{"DC955EBFD1C1":null}},
		"DC955EBFD1C1":{"status":"Connected","range":{"D78D11E03AC8":200}},
		"keys":{"status":"Connected","range":{"D78D11E03AC8":150,"DC955EBFD1C1":150}}
	}}`

	raw, err := DecodeStatus([]byte(body))
	require.NoError(t, err)

	engine := positioning.NewEngine([2]string{"D78D11E03AC8", "DC955EBFD1C1"}, model.Dimensions{X: 350, Y: 300}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := engine.ComputeLocations(raw)
	require.NoError(t, err)

	require.Len(t, result.Faults, 1)
	assert.Equal(t, "D78D11E03AC8", result.Faults[0].Tag)
	assert.ErrorIs(t, result.Faults[0], positioning.ErrDataIntegrity)
	assert.Nil(t, result.Report.PixiePoints["keys"].Coordinates)
}
