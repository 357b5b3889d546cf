package http

import "net/http"

// NewMux wires the health check, the JSON API and the websocket endpoint.
func NewMux(api *API, ws *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	api.Register(mux)
	return mux
}
