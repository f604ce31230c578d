package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifySigned checks the request the same way a venue would.
func verifySigned(t *testing.T, r *http.Request, body []byte, creds signer.Credentials) {
	t.Helper()
	assert.Equal(t, creds.APIKey, r.Header.Get(signer.HeaderAPIKey))
	assert.True(t, signer.Verify(creds.Secret, r.Header.Get(signer.HeaderTimestamp), r.Method, r.URL.RequestURI(), body, r.Header.Get(signer.HeaderSignature)))
	assert.Equal(t, creds.Passphrase, r.Header.Get(signer.HeaderPassphrase))
}

func TestRESTCreateOrderSignsRequest(t *testing.T) {
	creds := signer.Credentials{APIKey: "key", Secret: "sec", Passphrase: "pass"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifySigned(t, r, body, creds)
		assert.Equal(t, "/api/v1/orders", r.URL.Path)

		var in map[string]any
		require.NoError(t, json.Unmarshal(body, &in))
		assert.Equal(t, "BTC-USDT", in["symbol"])
		assert.Equal(t, "limit", in["type"])
		assert.Equal(t, "30000", in["price"])

		_, _ = w.Write([]byte(`{"id":"r-9","status":"open","filled":"0.2","fee":{"amount":"0.01","currency":"USDT"}}`))
	}))
	defer srv.Close()

	c := NewRESTConnector(RESTOptions{Name: "ex", BaseURL: srv.URL + "/", Credentials: creds})
	price := d("30000")
	res, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideBuy, Kind: model.KindLimit, Price: &price, Amount: d("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "r-9", res.RemoteID)
	assert.Equal(t, RemoteOpen, res.Status)
	assert.True(t, res.Filled.Equal(d("0.2")))
	assert.Equal(t, "USDT", res.Fee.Currency)
}

func TestRESTErrorMessagePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Insufficient balance for requested order"}`))
	}))
	defer srv.Close()

	c := NewRESTConnector(RESTOptions{Name: "ex", BaseURL: srv.URL, Credentials: signer.Credentials{APIKey: "k", Secret: "s"}})
	_, err := c.CreateOrder(context.Background(), OrderRequest{Symbol: "BTC-USDT", Side: model.SideBuy, Kind: model.KindMarket, Amount: d("1")})
	require.Error(t, err)
	assert.True(t, retry.IsInsufficientBalance(err))

	var ve *VenueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, http.StatusBadRequest, ve.StatusCode)
}

func TestRESTServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRESTConnector(RESTOptions{Name: "ex", BaseURL: srv.URL})
	_, err := c.FetchTicker(context.Background(), "BTC-USDT")
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
	assert.Contains(t, err.Error(), "Service Unavailable")
}

func TestRESTQueryIsSigned(t *testing.T) {
	creds := signer.Credentials{APIKey: "k", Secret: "s"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySigned(t, r, nil, creds)
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/api/v1/orders/r-1", r.URL.Path)
			assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"id":"r-1","status":"closed","filled":"1"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewRESTConnector(RESTOptions{Name: "ex", BaseURL: srv.URL, Credentials: creds, RequestsPerSecond: 100, Burst: 5})
	res, err := c.FetchOrder(context.Background(), "r-1", "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, RemoteClosed, res.Status)
	require.NoError(t, c.CancelOrder(context.Background(), "r-1", "BTC-USDT"))
}

func TestRESTBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"USDT","free":"100.5","locked":"0"}]`))
	}))
	defer srv.Close()

	c := NewRESTConnector(RESTOptions{Name: "ex", BaseURL: srv.URL})
	bals, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.True(t, bals[0].Free.Equal(d("100.5")))
}
