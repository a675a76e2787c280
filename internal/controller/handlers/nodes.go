package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"meshplane/internal/nodes"
	"meshplane/internal/store"
	"meshplane/pkg/api"
)

// RegisterNode handles POST /nodes/register.
// Registering an existing node_id refreshes it and keeps its reputation.
func (h *Handlers) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	node, err := h.engine.RegisterNode(r.Context(), nodes.RegisterParams{
		NodeID:       req.NodeID,
		Host:         req.Host,
		Port:         req.Port,
		GPUMemoryGB:  req.GPUMemory,
		ComputeScore: req.ComputeScore,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}
	h.respondJson(w, http.StatusOK, toNodeResponse(node))
}

// ListNodes handles GET /nodes. With ?live=true only nodes that can take
// work right now are returned.
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	list := h.engine.ListNodes
	if live, _ := strconv.ParseBool(r.URL.Query().Get("live")); live {
		list = h.engine.ListLiveNodes
	}

	found, err := list(r.Context())
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}

	resp := api.ListNodesResponse{Nodes: make([]api.NodeResponse, 0, len(found)), Count: len(found)}
	for i := range found {
		resp.Nodes = append(resp.Nodes, toNodeResponse(&found[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetNode handles GET /nodes/{id}.
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}
	h.respondJson(w, http.StatusOK, toNodeResponse(node))
}

// Heartbeat handles POST /nodes/{id}/heartbeat.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")

	ok, err := h.engine.Heartbeat(r.Context(), nodeID)
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}
	if !ok {
		h.httpError(w, "Node not found", http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, api.HeartbeatResponse{NodeID: nodeID, Status: "ok"})
}

// GetNodeMetrics handles GET /nodes/{id}/metrics.
func (h *Handlers) GetNodeMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetNodeMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}

	h.respondJson(w, http.StatusOK, api.NodeMetricsResponse{
		NodeID:        m.Node.NodeID,
		Status:        string(m.Node.Status),
		GPUMemory:     m.Node.GPUMemoryGB,
		ComputeScore:  m.Node.ComputeScore,
		Reputation:    m.Node.Reputation,
		LastHeartbeat: m.Node.LastHeartbeat,
		Jobs:          toJobCounts(m.Jobs),
		Earnings:      m.Earnings,
		TotalCost:     m.TotalCost,
	})
}

// GetReputation handles GET /nodes/{id}/reputation?limit=N.
func (h *Handlers) GetReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodeID := r.PathValue("id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	node, err := h.engine.GetNode(ctx, nodeID)
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}
	history, err := h.engine.ReputationHistory(ctx, nodeID, limit)
	if err != nil {
		h.engineError(w, r, err, "Node not found")
		return
	}

	resp := api.ReputationHistoryResponse{
		NodeID:     nodeID,
		Reputation: node.Reputation,
		History:    make([]api.ReputationEntry, 0, len(history)),
	}
	for _, e := range history {
		resp.History = append(resp.History, api.ReputationEntry{
			JobID:     e.JobID,
			Change:    e.Change,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

func toNodeResponse(n *store.Node) api.NodeResponse {
	return api.NodeResponse{
		NodeID:        n.NodeID,
		Host:          n.Host,
		Port:          n.Port,
		GPUMemory:     n.GPUMemoryGB,
		ComputeScore:  n.ComputeScore,
		Reputation:    n.Reputation,
		Status:        string(n.Status),
		RegisteredAt:  n.RegisteredAt,
		LastHeartbeat: n.LastHeartbeat,
		Metadata:      n.Metadata,
	}
}

func toJobCounts(c store.JobCounts) api.JobCounts {
	return api.JobCounts{
		Total:     c.Total,
		Pending:   c.Pending,
		Running:   c.Running,
		Completed: c.Completed,
		Failed:    c.Failed,
	}
}
