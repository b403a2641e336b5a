package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prescreenhq/prescreen/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is the slice of the store readiness needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config config.Config
	Store  Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.PublicURL) == "" {
		issues = append(issues, "public url not configured")
	}
	if strings.TrimSpace(h.Config.TwilioAccountSID) == "" || strings.TrimSpace(h.Config.TwilioAuthToken) == "" {
		issues = append(issues, "telephony credentials not configured")
	}
	if strings.TrimSpace(h.Config.DeepgramAPIKey) == "" {
		issues = append(issues, "agent api key not configured")
	}
	if h.Config.FarewellGrace <= 0 || h.Config.CloseTimeout <= 0 {
		issues = append(issues, "teardown timings must be > 0")
	}

	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{OK: ok, Issues: issues})
}
