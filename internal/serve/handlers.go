package serve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapml/internal/model"
)

const (
	sessionName   = "leapml"
	sessionPrefix = "form."
)

// handlers serves the HTML and JSON routes of a Server.
type handlers struct {
	server *Server
}

func (h *handlers) view() formView {
	v := formView{ModelName: h.server.cfg.ModelName, Values: map[string]string{}}
	if a := h.server.Model(); a != nil {
		v.Version = a.Version
	}
	return v
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	v := h.view()
	if session, err := h.server.sessions.Get(r, sessionName); err == nil {
		for _, name := range model.FeatureColumns {
			if s, ok := session.Values[sessionPrefix+name].(string); ok {
				v.Values[name] = s
			}
		}
	}
	h.render(w, r, http.StatusOK, v)
}

func (h *handlers) predictForm(w http.ResponseWriter, r *http.Request) {
	v := h.view()
	if err := r.ParseForm(); err != nil {
		v.Error = "Invalid form submission"
		h.render(w, r, http.StatusBadRequest, v)
		return
	}
	for _, name := range model.FeatureColumns {
		v.Values[name] = strings.TrimSpace(r.PostForm.Get(name))
	}

	features, err := parseForm(v.Values)
	if err != nil {
		v.Error = err.Error()
		h.render(w, r, http.StatusBadRequest, v)
		return
	}

	h.remember(w, r, v.Values)

	y, _, err := h.server.Predict(features)
	if err != nil {
		v.Error = fmt.Sprintf("Prediction failed: %v", err)
		h.render(w, r, predictStatus(err), v)
		return
	}
	v.Prediction = &y
	h.render(w, r, http.StatusOK, v)
}

// remember stores the submitted values so the next form is pre-filled.
func (h *handlers) remember(w http.ResponseWriter, r *http.Request, values map[string]string) {
	session, err := h.server.sessions.Get(r, sessionName)
	if err != nil && session == nil {
		return
	}
	for name, val := range values {
		session.Values[sessionPrefix+name] = val
	}
	if err := session.Save(r, w); err != nil {
		h.server.logger.Debug("failed to save form session", "error", err)
	}
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request, status int, v formView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := predictPage(v).Render(r.Context(), w); err != nil {
		h.server.logger.Error("failed to render page", "error", err)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", ModelLoaded: h.server.Model() != nil})
}

// parseForm reads the eight features in model order. Date parts must be
// whole numbers.
func parseForm(values map[string]string) ([]float64, error) {
	features := make([]float64, len(model.FeatureColumns))
	for i, name := range model.FeatureColumns {
		raw := values[name]
		if raw == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
		if isIntegerField(name) {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%s must be a whole number", name)
			}
			features[i] = float64(n)
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number", name)
		}
		features[i] = f
	}
	return features, nil
}

func predictStatus(err error) int {
	switch {
	case errors.Is(err, ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNonFinitePrediction):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v before sending the status, so an unencodable value
// becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
