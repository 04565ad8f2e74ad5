package probe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jandubois/mon/internal/metrics"
)

type healthResponse struct {
	Status    string     `json:"status"`
	Name      string     `json:"name"`
	Plugins   int        `json:"plugins"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

func (a *Agent) apiServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.apiHandler(a.cfg.Name),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *Agent) apiHandler(name string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		resp := healthResponse{Status: "ok", Name: name, Plugins: a.plugins}
		if !a.lastCycle.IsZero() {
			last := a.lastCycle
			resp.LastCycle = &last
		}
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		a.control.RequestReload()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"reload requested"}`))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
