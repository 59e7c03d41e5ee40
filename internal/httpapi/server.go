// Package httpapi is the synchronous REST/WebSocket front end bots submit
// orders through: it authenticates a request, hands it to the pipeline,
// suspends on the response coordinator, and serialises whatever comes back.
//
// Grounded on the teacher's internal/net.Server (tomb-supervised Run/
// Shutdown lifecycle, one engine behind the transport) and, for the
// router/handler shape, DimaJoyti-ai-agentic-crypto-browser's api.APIServer
// (gorilla/mux router, gorilla/websocket upgrader, a uniform JSON envelope).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"optionex/internal/common"
	"optionex/internal/coordinator"
	"optionex/internal/pipeline"
	"optionex/internal/position"
	"optionex/internal/teams"
	"optionex/internal/venue"
	"optionex/internal/wsfanout"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds the server's tunables.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	return c
}

// Deps bundles every collaborator the HTTP layer dispatches to. None of
// these packages import net/http or mux themselves; httpapi is the only
// place transport concerns meet the domain.
type Deps struct {
	Venue     *venue.Venue
	Pipeline  *pipeline.Pipeline
	Coord     *coordinator.Coordinator
	Teams     *teams.Registry
	Positions *position.Store
	WS        *wsfanout.Registry
}

// Server is the exchange's HTTP/WebSocket front end.
type Server struct {
	cfg  Config
	deps Deps

	router   *mux.Router
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New builds a Server and wires its routes. Run must be called to start
// serving.
func New(deps Deps, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: s.router}
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/teams", s.handleRegisterTeam).Methods(http.MethodPost)
	r.Handle("/orders", s.authenticated(s.handleSubmitOrder)).Methods(http.MethodPost)
	r.Handle("/orders", s.authenticated(s.handleListOrders)).Methods(http.MethodGet)
	r.Handle("/orders/{order_id}", s.authenticated(s.handleCancelOrder)).Methods(http.MethodDelete)
	r.Handle("/positions", s.authenticated(s.handlePositions)).Methods(http.MethodGet)
	r.HandleFunc("/market/{instrument_id}", s.handleMarketSummary).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// Handler exposes the underlying router, for tests that want to drive the
// server with httptest.NewServer instead of a bound listener.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts serving and blocks until ctx is cancelled, then gracefully
// shuts the HTTP server down. Intended to be launched under the same
// tomb.Tomb as the pipeline stages (`t.Go(func() error { return
// srv.Run(ctx) })`), mirroring the teacher's net.Server.Run/Shutdown split.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// envelope is the uniform JSON response shape for every handler.
type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Code: code, Message: message})
}

type teamContextKey struct{}

// authenticated wraps h, resolving the X-API-Key header to a team before
// calling through; an unknown or missing key is rejected with 401.
func (s *Server) authenticated(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		team, ok := s.deps.Teams.Authenticate(apiKey)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or unknown X-API-Key")
			return
		}
		ctx := context.WithValue(r.Context(), teamContextKey{}, team)
		h(w, r.WithContext(ctx))
	})
}

func teamFromContext(r *http.Request) teams.Team {
	team, _ := r.Context().Value(teamContextKey{}).(teams.Team)
	return team
}

// handleRegisterTeam registers a new team and mints it an API key. The
// distilled spec treats team registration as an out-of-core concern (§6);
// this handler is the thin REST surface over internal/teams.
func (s *Server) handleRegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeamID string `json:"team_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.TeamID == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "team_id and role are required")
		return
	}

	apiKey := uuid.New().String()
	s.deps.Teams.Add(teams.Team{ID: req.TeamID, APIKey: apiKey, Role: req.Role})
	s.deps.Positions.Initialize(req.TeamID)

	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Data:    map[string]string{"team_id": req.TeamID, "api_key": apiKey, "role": req.Role},
	})
}

// orderRequest is the wire shape of POST /orders.
type orderRequest struct {
	InstrumentID  string `json:"instrument_id"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	Price         string `json:"price,omitempty"`
	Quantity      int64  `json:"quantity"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// handleSubmitOrder parses, registers a coordinator request, enqueues onto
// the pipeline, then blocks on WaitForCompletion, translating the
// synthesised or notified outcome into the HTTP response. This is the one
// place the synchronous REST contract meets the asynchronous pipeline
// (spec.md §9's single-shot wait, §6).
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	side, err := common.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_side", err.Error())
		return
	}
	orderType, err := common.ParseOrderType(req.OrderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order_type", err.Error())
		return
	}

	params := common.NewOrderParams{
		InstrumentID:  req.InstrumentID,
		Side:          side,
		OrderType:     orderType,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_price", err.Error())
			return
		}
		params.Price = price
		params.HasPrice = true
	}

	team := teamFromContext(r)
	params.TraderID = team.ID

	reg, err := s.deps.Coord.RegisterRequest(team.ID, s.cfg.RequestTimeout)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}

	if err := s.deps.Pipeline.EnqueueNewOrder(reg.RequestID, pipeline.TeamInfo{TeamID: team.ID, Role: team.Role}, params); err != nil {
		writeError(w, http.StatusServiceUnavailable, "overloaded", err.Error())
		return
	}

	s.waitAndRespond(w, r, reg.RequestID)
}

// handleCancelOrder accepts the instrument id as a query parameter since
// DELETE requests carry no body in this API; the order id is the route
// variable.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	instrumentID := r.URL.Query().Get("instrument_id")
	if instrumentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "instrument_id query parameter is required")
		return
	}

	team := teamFromContext(r)

	reg, err := s.deps.Coord.RegisterRequest(team.ID, s.cfg.RequestTimeout)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}

	if err := s.deps.Pipeline.EnqueueCancelOrder(reg.RequestID, pipeline.TeamInfo{TeamID: team.ID, Role: team.Role}, instrumentID, orderID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "overloaded", err.Error())
		return
	}

	s.waitAndRespond(w, r, reg.RequestID)
}

// waitAndRespond blocks on the coordinator for requestID and writes
// whatever outcome it settles with.
func (s *Server) waitAndRespond(w http.ResponseWriter, r *http.Request, requestID string) {
	result, err := s.deps.Coord.WaitForCompletion(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, "request_cancelled", err.Error())
		return
	}

	status := http.StatusOK
	if !result.Response.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, envelope{
		Success: result.Response.Success,
		Code:    result.Response.Code,
		Message: result.Response.Message,
		Data:    result.Response.Data,
	})
}

func (s *Server) writeCoordinatorError(w http.ResponseWriter, err error) {
	switch err {
	case coordinator.ErrOverloaded:
		writeError(w, http.StatusServiceUnavailable, "overloaded", err.Error())
	case coordinator.ErrShuttingDown:
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// handleListOrders serves the supplemental per-team open-orders listing.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	orders := s.deps.Venue.ListOpenOrders(team.ID)

	out := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, map[string]any{
			"order_id":      o.OrderID,
			"instrument_id": o.InstrumentID,
			"side":          o.Side.String(),
			"order_type":    o.OrderType.String(),
			"price":         o.Price.String(),
			"quantity":      o.Quantity,
			"filled":        o.FilledQuantity,
		})
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}

// handlePositions serves the per-team position snapshot.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.deps.Positions.GetAll(team.ID)})
}

// handleMarketSummary serves the supplemental market-data read endpoint
// (original_source's get_market_summary); unauthenticated, since market
// data is public.
func (s *Server) handleMarketSummary(w http.ResponseWriter, r *http.Request) {
	instrumentID := mux.Vars(r)["instrument_id"]
	summary, err := s.deps.Venue.GetMarketSummary(instrumentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_instrument", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
}

// handleWebSocket authenticates (header or query-string API key, since
// browser/bot WebSocket clients can't always set custom headers), upgrades
// the connection, and registers it with the fan-out registry. The read
// loop exists only to detect the client going away; all outbound traffic
// flows through the registry's own writePump.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}
	team, ok := s.deps.Teams.Authenticate(apiKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or unknown api key")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("team_id", team.ID).Msg("websocket upgrade failed")
		return
	}

	s.deps.WS.Register(team.ID, conn)
	log.Info().Str("team_id", team.ID).Msg("websocket connection registered")

	// spec.md: "On connect the server sends a position_snapshot" — the same
	// data handlePositions serves over REST, pushed once immediately so a
	// reconnecting bot doesn't have to poll for its starting positions.
	s.deps.WS.Send(team.ID, wsfanout.PositionSnapshot, s.deps.Positions.GetAll(team.ID))

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.deps.WS.Unregister(team.ID)
				return
			}
		}
	}()
}
