package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
)

// maxBodyBytes bounds request bodies on the ingestion endpoints.
const maxBodyBytes = 5 << 20

// envelope is the uniform JSON response shape.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Message: msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"name":       s.config.Name,
		"connectors": s.registry.Count(),
		"queue":      s.queue.Stats(),
		"observers":  s.monitor.Hub().Count(),
	})
}

// Agent API.

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var reg connector.AgentRegistration
	if err := decodeBody(r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed registration body")
		return
	}

	// The organization key selects the connector; an agent never names
	// its connector directly.
	var target *connector.AgentConnector
	for _, c := range s.registry.GetConnectorsByType(core.ConnectorTypeAgent) {
		ac, ok := c.(*connector.AgentConnector)
		if !ok {
			continue
		}
		if ac.MatchesOrgKey(reg.OrganizationKey) {
			target = ac
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusUnauthorized, "invalid organization key")
		return
	}
	if target.Status() == core.StatusDisabled {
		writeError(w, http.StatusForbidden, "agent connector disabled")
		return
	}

	record, err := target.RegisterAgent(r.Context(), &reg)
	if err != nil {
		if errors.Is(err, core.ErrInvalidOrgKey) {
			writeError(w, http.StatusUnauthorized, "registration rejected")
			return
		}
		s.logger.Error("Agent registration failed", map[string]interface{}{
			"connector_id": target.ID(),
			"error":        err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.issuer.Issue(record.ID, target.ID(), target.OrganizationID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	config, err := target.EffectiveAgentConfig(r.Context(), record.ID)
	if err != nil {
		config = map[string]interface{}{}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agentId": record.ID,
		"status":  record.Status,
		"token":   token,
		"config":  config,
	})
}

// agentConnector resolves the connector named in the verified claims.
func (s *Server) agentConnector(w http.ResponseWriter, r *http.Request) (*connector.AgentConnector, *AgentClaims, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token claims")
		return nil, nil, false
	}
	c, ok := s.registry.Get(claims.ConnectorID)
	if !ok {
		writeError(w, http.StatusNotFound, "connector not found")
		return nil, nil, false
	}
	ac, ok := c.(*connector.AgentConnector)
	if !ok {
		writeError(w, http.StatusBadRequest, "connector does not accept agent traffic")
		return nil, nil, false
	}
	if ac.Status() != core.StatusActive {
		writeError(w, http.StatusForbidden, "agent connector not active")
		return nil, nil, false
	}
	return ac, claims, true
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	ac, claims, ok := s.agentConnector(w, r)
	if !ok {
		return
	}
	var hb connector.AgentHeartbeat
	if err := decodeBody(r, &hb); err != nil {
		writeError(w, http.StatusBadRequest, "malformed heartbeat body")
		return
	}
	if err := ac.ProcessHeartbeat(r.Context(), claims.AgentID, &hb); err != nil {
		if errors.Is(err, core.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAgentData(w http.ResponseWriter, r *http.Request) {
	ac, claims, ok := s.agentConnector(w, r)
	if !ok {
		return
	}
	var body struct {
		Events []connector.AgentEvent `json:"events"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed data body")
		return
	}
	accepted, err := ac.ProcessEvents(r.Context(), claims.AgentID, body.Events)
	if err != nil {
		if errors.Is(err, core.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "data upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": accepted,
		"received": len(body.Events),
	})
}

func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	ac, claims, ok := s.agentConnector(w, r)
	if !ok {
		return
	}
	config, err := ac.EffectiveAgentConfig(r.Context(), claims.AgentID)
	if err != nil {
		if errors.Is(err, core.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "config lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// Webhook ingestion.

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	hookPath := strings.TrimPrefix(r.URL.Path, "/webhooks")
	if hookPath == "" {
		hookPath = "/"
	}

	var target *connector.WebhookConnector
	for _, c := range s.registry.GetConnectorsByType(core.ConnectorTypeWebhook) {
		wc, ok := c.(*connector.WebhookConnector)
		if !ok {
			continue
		}
		if wc.Path() == hookPath {
			target = wc
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "no webhook mounted on path")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	sourceIP := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(sourceIP); splitErr == nil {
		sourceIP = host
	}
	err = target.HandlePayload(r.Context(), body, r.Header.Get(target.SignatureHeader()), sourceIP)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, nil)
	case errors.Is(err, core.ErrConnectorDisabled):
		writeError(w, http.StatusServiceUnavailable, "webhook paused")
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, core.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "ingestion queue full")
	default:
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
	}
}

// Operator API.

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	conns := s.registry.List()
	items := make([]map[string]interface{}, 0, len(conns))
	for _, c := range conns {
		items = append(items, map[string]interface{}{
			"id":             c.ID(),
			"organizationId": c.OrganizationID(),
			"name":           c.Name(),
			"type":           string(c.Type()),
			"status":         string(c.Status()),
			"healthy":        c.HealthCheck(),
			"metrics":        c.GetMetrics(),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) connectorByID(w http.ResponseWriter, r *http.Request) (connector.Connector, bool) {
	id := chi.URLParam(r, "id")
	c, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "connector not found")
		return nil, false
	}
	return c, true
}

func (s *Server) handleTestConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connectorByID(w, r)
	if !ok {
		return
	}
	result := c.TestConnection(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleRunConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connectorByID(w, r)
	if !ok {
		return
	}
	if !c.IsPull() {
		writeError(w, http.StatusBadRequest, "connector is not scheduler driven")
		return
	}
	if err := s.scheduler.RunConnectorNow(r.Context(), c.ID()); err != nil {
		if errors.Is(err, core.ErrConnectorDisabled) {
			writeError(w, http.StatusConflict, "connector disabled")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to schedule run")
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handlePauseConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connectorByID(w, r)
	if !ok {
		return
	}
	if err := c.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause connector")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(c.Status())})
}

func (s *Server) handleResumeConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connectorByID(w, r)
	if !ok {
		return
	}
	if err := c.Start(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to start connector")
		return
	}
	if c.IsPull() {
		s.scheduler.UpdateConnectorSchedule(c.ID())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(c.Status())})
}

func (s *Server) handleUpdateConnectorConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connectorByID(w, r)
	if !ok {
		return
	}
	var partial core.ConnectorConfig
	if err := decodeBody(r, &partial); err != nil {
		writeError(w, http.StatusBadRequest, "malformed configuration body")
		return
	}
	if err := c.UpdateConfig(r.Context(), &partial); err != nil {
		if errors.Is(err, core.ErrConfigInvalid) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}
	if c.IsPull() {
		s.scheduler.UpdateConnectorSchedule(c.ID())
	}
	writeJSON(w, http.StatusOK, nil)
}

// Queue API.

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	connectorID := r.URL.Query().Get("connectorId")
	requeued := s.queue.RetryFailedJobs(connectorID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"requeued": requeued})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
