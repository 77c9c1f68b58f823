package api

import (
	"net/http"

	"github.com/MODSetter/SurfSense-sub000/internal/server"
)

// NewMux registers every handler on a fresh mux.
func NewMux(srv server.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/chat", ChatHandler(srv))
	mux.Handle("/chats", ThreadsHandler(srv))
	mux.Handle("/connectors/trigger", TriggerHandler(srv))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, srv.Logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
