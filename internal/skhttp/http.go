package skhttp

import (
	"encoding/json"
	"net/http"

	"github.com/skatterlabs/skatter/internal/broker"
)

// HealthHandler answers 200 only while the broker is running, so a
// load balancer stops routing to an instance that is draining.
func HealthHandler(state func() broker.State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		current := state()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if current != broker.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte(`{"state":"` + current.String() + `"}`))
	})
}

func AboutHandler(version, commit, buildDate string) http.Handler {
	about := struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Build   string `json:"build"`
	}{
		Version: version,
		Commit:  commit,
		Build:   buildDate,
	}

	aboutStr, _ := json.Marshal(about)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(aboutStr)
	})
}
