package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/alerting"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/ingest"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/nodes"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/websocket"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 100
	defaultHistorySize = 100
	maxHistorySize     = 1000
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Auth           *auth.Gateway
	Nodes          *nodes.Service
	Alerts         *alerting.Manager
	Ingest         *ingest.Service
	Hub            *websocket.Hub
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Handler struct {
	auth     *auth.Gateway
	nodes    *nodes.Service
	alerts   *alerting.Manager
	ingest   *ingest.Service
	hub      *websocket.Hub
	upgrader gwebsocket.Upgrader
	log      *zap.Logger
	started  time.Time
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:   d.Auth,
		nodes:  d.Nodes,
		alerts: d.Alerts,
		ingest: d.Ingest,
		hub:    d.Hub,
		upgrader: gwebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(d.AllowedOrigins),
		},
		log:     logger.Named("api"),
		started: time.Now(),
	}
}

// originChecker allows requests without an Origin header (devices, CLIs)
// and browser origins on the list. An empty list or "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleToken exchanges user credentials for a bearer token.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.fail(w, r, validationf("username and password are required"))
		return
	}
	role, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, expiresAt, err := h.auth.GenerateJWT(req.Username, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": expiresAt.UTC(),
		"username":  req.Username,
		"role":      role,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	clients, subs := h.hub.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(h.started).Round(time.Second).String(),
		"sessions":      clients,
		"subscriptions": subs,
	})
}

// HandleSubmitReading accepts one reading for the node in the path.
func (h *Handler) HandleSubmitReading(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := data.ParseReading(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	caller := auth.IdentityFromContext(r.Context())
	res, err := h.ingest.Submit(ingest.WithSource(r.Context(), "http"), chi.URLParam(r, "nodeId"), in, caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summaries := make([]data.AlertSummary, 0, len(res.Alerts))
	for _, a := range res.Alerts {
		summaries = append(summaries, a.Summary())
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Sensor data submitted successfully",
		"sensorData": res.Reading,
		"alerts":     summaries,
	})
}

func (h *Handler) HandleListSensors(w http.ResponseWriter, r *http.Request) {
	limit, page, err := paging(r, defaultPageSize, maxPageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	owner := auth.IdentityFromContext(r.Context())
	list, total, err := h.nodes.List(r.Context(), owner, nodes.ListFilter{
		Status: data.NodeStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensorNodes": list,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"pages":       pages(total, limit),
	})
}

func (h *Handler) HandleRegisterSensor(w http.ResponseWriter, r *http.Request) {
	var reg nodes.Registration
	if err := decodeJSON(r, &reg); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.nodes.Register(r.Context(), auth.IdentityFromContext(r.Context()), reg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Sensor node registered successfully",
		"sensorNode": n,
	})
}

func (h *Handler) HandleGetSensor(w http.ResponseWriter, r *http.Request) {
	n, err := h.nodes.Get(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "nodeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type thresholdsRequest struct {
	Thresholds map[string]data.Bounds `json:"thresholds"`
}

func (h *Handler) HandleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	policy := make(data.ThresholdPolicy, len(req.Thresholds))
	for metric, b := range req.Thresholds {
		policy[data.Metric(metric)] = b
	}
	n, err := h.nodes.UpdatePolicy(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "nodeId"), policy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Thresholds updated successfully",
		"sensorNode": n,
	})
}

func (h *Handler) HandleSensorHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistorySize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistorySize {
			h.fail(w, r, validationf("limit must be between 1 and %d", maxHistorySize))
			return
		}
		limit = n
	}
	nodeID := chi.URLParam(r, "nodeId")
	readings, err := h.nodes.Recent(r.Context(), auth.IdentityFromContext(r.Context()), nodeID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensorData": readings,
		"total":      len(readings),
		"nodeId":     nodeID,
	})
}

func (h *Handler) HandleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.Delete(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "nodeId")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Sensor node deleted successfully"})
}
