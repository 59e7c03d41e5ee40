package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optionex/internal/common"
	"optionex/internal/coordinator"
	"optionex/internal/fee"
	"optionex/internal/httpapi"
	"optionex/internal/matching"
	"optionex/internal/phase"
	"optionex/internal/pipeline"
	"optionex/internal/position"
	"optionex/internal/teams"
	"optionex/internal/validation"
	"optionex/internal/venue"
	"optionex/internal/wsfanout"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

const testInstrumentID = "SPX_4500_CALL"

type fixedPhase struct{ state phase.State }

func (f fixedPhase) CurrentPhase() phase.State { return f.state }

func newTestServer(t *testing.T) (*httptest.Server, *teams.Registry) {
	t.Helper()

	phases := fixedPhase{phase.DefaultStates()[phase.Continuous]}
	v := venue.New(phases, matching.NewContinuousEngine(), matching.NewBatchEngine())
	inst, err := common.NewInstrument(testInstrumentID, "SPX", nil, "2026-01-16", common.Call)
	require.NoError(t, err)
	require.NoError(t, v.ListInstrument(inst))

	validator := validation.NewValidator(map[string][]validation.Constraint{
		"market_maker": {validation.OrderSize{MinSize: 1, MaxSize: 1000}},
	}, validation.TradingWindow{AllowedPhases: map[phase.Type]bool{phase.Continuous: true}})

	roles := teams.NewRegistry()
	positions := position.NewStore()
	coord := coordinator.New(coordinator.Config{DefaultTimeout: 2 * time.Second})
	ws := wsfanout.NewRegistry()

	p := pipeline.New(pipeline.Deps{
		Venue:      v,
		Validator:  validator,
		RateLimits: validation.NewRateLimitStore(nil),
		Positions:  positions,
		Fees: fee.NewCalculator(map[string]fee.Schedule{
			"market_maker": {MakerRebate: decimal.Zero, TakerFee: decimal.Zero},
		}),
		Coord:  coord,
		WS:     ws,
		Roles:  roles,
		Phases: phases,
	}, pipeline.Config{})

	tb, _ := tomb.WithContext(context.Background())
	p.Run(tb)
	t.Cleanup(func() { p.Shutdown(); tb.Kill(nil) })

	srv := httpapi.New(httpapi.Deps{
		Venue:     v,
		Pipeline:  p,
		Coord:     coord,
		Teams:     roles,
		Positions: positions,
		WS:        ws,
	}, httpapi.Config{RequestTimeout: 2 * time.Second})

	return httptest.NewServer(srv.Handler()), roles
}

func registerTeam(t *testing.T, base string, teamID, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"team_id": teamID, "role": role})
	resp, err := http.Post(base+"/teams", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Data struct {
			APIKey string `json:"api_key"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Data.APIKey
}

func doRequest(t *testing.T, method, url, apiKey string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestServer_RegisterTeamIssuesAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_A", "market_maker")
	assert.NotEmpty(t, apiKey)
}

func TestServer_SubmitOrderRequiresAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doRequest(t, http.MethodPost, srv.URL+"/orders", "", map[string]any{
		"instrument_id": testInstrumentID, "side": "buy", "order_type": "limit", "price": "100.00", "quantity": 10,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SubmitOrderAcceptedAndMatched(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	sellerKey := registerTeam(t, srv.URL, "TEAM_SELLER", "market_maker")
	buyerKey := registerTeam(t, srv.URL, "TEAM_BUYER", "market_maker")

	sellResp := doRequest(t, http.MethodPost, srv.URL+"/orders", sellerKey, map[string]any{
		"instrument_id": testInstrumentID, "side": "sell", "order_type": "limit", "price": "100.00", "quantity": 10,
	})
	defer sellResp.Body.Close()
	assert.Equal(t, http.StatusOK, sellResp.StatusCode)

	buyResp := doRequest(t, http.MethodPost, srv.URL+"/orders", buyerKey, map[string]any{
		"instrument_id": testInstrumentID, "side": "buy", "order_type": "limit", "price": "100.00", "quantity": 10,
	})
	defer buyResp.Body.Close()
	var out struct {
		Success bool `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(buyResp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "new", out.Code)
}

func TestServer_SubmitOrderRejectedByValidator(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_A", "market_maker")
	resp := doRequest(t, http.MethodPost, srv.URL+"/orders", apiKey, map[string]any{
		"instrument_id": testInstrumentID, "side": "buy", "order_type": "limit", "price": "100.00", "quantity": 5000,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_CancelOrderSucceedsForOwner(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_A", "market_maker")
	submitResp := doRequest(t, http.MethodPost, srv.URL+"/orders", apiKey, map[string]any{
		"instrument_id": testInstrumentID, "side": "buy", "order_type": "limit", "price": "100.00", "quantity": 10,
	})
	defer submitResp.Body.Close()
	var submitted struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(submitResp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.Data.OrderID)

	cancelURL := srv.URL + "/orders/" + submitted.Data.OrderID + "?instrument_id=" + testInstrumentID
	cancelResp := doRequest(t, http.MethodDelete, cancelURL, apiKey, nil)
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusOK, cancelResp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(cancelResp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "cancelled", out.Code)
}

func TestServer_CancelOrderRejectedForUnknownOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_A", "market_maker")
	cancelURL := srv.URL + "/orders/does-not-exist?instrument_id=" + testInstrumentID
	resp := doRequest(t, http.MethodDelete, cancelURL, apiKey, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_CancelOrderRequiresInstrumentID(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_A", "market_maker")
	resp := doRequest(t, http.MethodDelete, srv.URL+"/orders/whatever", apiKey, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MarketSummaryIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/market/" + testInstrumentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_PositionsRequireAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doRequest(t, http.MethodGet, srv.URL+"/positions", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WebSocketUpgradeAndRegistration(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	apiKey := registerTeam(t, srv.URL, "TEAM_WS", "market_maker")

	wsURL := "ws" + srv.URL[len("http"):] + "/ws?api_key=" + apiKey
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg struct {
		Type string `json:"type"`
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "position_snapshot", msg.Type)
}
