// Package httpapi exposes a small read-only status surface for operators.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mone27/mqtt-adapter/internal/bridge"
	"github.com/mone27/mqtt-adapter/internal/model"
	"github.com/mone27/mqtt-adapter/internal/plugin"
)

type Server struct {
	plugin  *plugin.Plugin
	life    *bridge.Lifecycle
	mailbox *bridge.Mailbox
}

func NewServer(p *plugin.Plugin, life *bridge.Lifecycle, mailbox *bridge.Mailbox) *Server {
	return &Server{plugin: p, life: life, mailbox: mailbox}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/status", s.handleStatus)
	r.Get("/adapters", s.handleAdapters)
	r.Get("/adapters/{adapterID}/devices", s.handleAdapterDevices)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type statusResponse struct {
	PluginID      string `json:"pluginId"`
	BridgeState   string `json:"bridgeState"`
	InboundDepth  int    `json:"inboundDepth"`
	OutboundDepth int    `json:"outboundDepth"`
	Adapters      int    `json:"adapters"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	in, out := s.mailbox.Depths()
	writeJSON(w, http.StatusOK, statusResponse{
		PluginID:      s.plugin.ID(),
		BridgeState:   s.life.State().String(),
		InboundDepth:  in,
		OutboundDepth: out,
		Adapters:      len(s.plugin.Snapshot()),
	})
}

func (s *Server) handleAdapters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.plugin.Snapshot())
}

func (s *Server) handleAdapterDevices(w http.ResponseWriter, r *http.Request) {
	adapterID := chi.URLParam(r, "adapterID")
	for _, info := range s.plugin.Snapshot() {
		if info.ID == adapterID {
			devices := info.Devices
			if devices == nil {
				devices = []model.Device{}
			}
			writeJSON(w, http.StatusOK, devices)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown adapter"})
}
