package serve

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapml/internal/model"
)

// Tensor describes one named input or output of the model.
type Tensor struct {
	Name     string    `json:"name"`
	Datatype string    `json:"datatype"`
	Shape    []int     `json:"shape"`
	Data     []float64 `json:"data,omitempty"`
}

// Metadata is the KServe model metadata document.
type Metadata struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Platform string   `json:"platform"`
	Inputs   []Tensor `json:"inputs"`
	Outputs  []Tensor `json:"outputs"`
}

// InferenceResponse is returned by both prediction endpoints.
type InferenceResponse struct {
	ModelName    string   `json:"model_name"`
	ModelVersion string   `json:"model_version"`
	ID           string   `json:"id,omitempty"`
	Outputs      []Tensor `json:"outputs"`
}

// namedDefaults fill fields left out of a named inference request.
var namedDefaults = map[string]float64{"year": 2024, "month": 1, "day": 1}

func (h *handlers) metadata(w http.ResponseWriter, _ *http.Request) {
	md := Metadata{
		Name:     h.server.cfg.ModelName,
		Versions: []string{},
		Platform: "leapml-linear",
		Outputs:  []Tensor{{Name: "prediction", Datatype: "FP32", Shape: []int{1}}},
	}
	if a := h.server.Model(); a != nil {
		md.Versions = append(md.Versions, a.Version)
	}
	for _, name := range model.FeatureColumns {
		dt := "FP32"
		if isIntegerField(name) {
			dt = "INT32"
		}
		md.Inputs = append(md.Inputs, Tensor{Name: name, Datatype: dt, Shape: []int{1}})
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *handlers) kservePredict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Inputs json.RawMessage `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var inputs []float64
	if err := json.Unmarshal(body.Inputs, &inputs); err != nil || len(inputs) != len(model.FeatureColumns) {
		writeError(w, http.StatusBadRequest, "Expected 8 input values")
		return
	}
	h.respond(w, inputs, "")
}

func (h *handlers) kserveInfer(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	raw, ok := body["inputs"]
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing 'inputs' field")
		return
	}

	inputs, ok := decodeInferInputs(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid input format")
		return
	}
	h.respond(w, inputs, uuid.NewString())
}

// decodeInferInputs accepts either the eight features in order or an object
// keyed by feature name.
func decodeInferInputs(raw json.RawMessage) ([]float64, bool) {
	var list []float64
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, len(list) == len(model.FeatureColumns)
	}

	var named map[string]float64
	if err := json.Unmarshal(raw, &named); err != nil || named == nil {
		return nil, false
	}
	inputs := make([]float64, len(model.FeatureColumns))
	for i, name := range model.FeatureColumns {
		v, ok := named[name]
		if !ok {
			v = namedDefaults[name]
		}
		inputs[i] = v
	}
	return inputs, true
}

func (h *handlers) respond(w http.ResponseWriter, inputs []float64, id string) {
	y, a, err := h.server.Predict(inputs)
	if err != nil {
		writeError(w, predictStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, InferenceResponse{
		ModelName:    h.server.cfg.ModelName,
		ModelVersion: a.Version,
		ID:           id,
		Outputs: []Tensor{{
			Name:     "prediction",
			Datatype: "FP32",
			Shape:    []int{1},
			Data:     []float64{y},
		}},
	})
}
