package serve

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/testutil"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

// testArtifact predicts Open + year, with an identity scaler.
func testArtifact(version string) *model.Artifact {
	n := len(model.FeatureColumns)
	coef := make([]float64, n)
	coef[0] = 1
	coef[5] = 1
	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	return model.NewArtifact("stock-regressor", version,
		&model.LinearRegression{Coefficients: coef},
		&model.StandardScaler{Mean: mean, Scale: scale},
		model.Metrics{R2: 1},
	)
}

func newTestServer(t *testing.T, loaded bool) *Server {
	t.Helper()
	s := New(Config{Logger: testutil.NewTestLogger(t)})
	if loaded {
		s.SetModel(testArtifact("v1"))
	}
	return s
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func formBody(overrides map[string]string) string {
	v := url.Values{
		"Open": {"105"}, "High": {"110"}, "Low": {"101"}, "Adj_Close": {"104.75"},
		"Volume": {"1300"}, "year": {"2020"}, "month": {"1"}, "day": {"7"},
	}
	for k, val := range overrides {
		if val == "" {
			v.Del(k)
			continue
		}
		v.Set(k, val)
	}
	return v.Encode()
}

const formType = "application/x-www-form-urlencoded"

// =============================================================================
// HTML form
// =============================================================================

func TestIndex(t *testing.T) {
	h := newTestServer(t, true).Handler()
	rec := do(t, h, http.MethodGet, "/", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		"<!doctype html>",
		"<title>Stock Price Prediction - LeapML</title>",
		`action="/predict"`,
		`name="Adj_Close"`,
		`name="day"`,
		"version v1",
	} {
		assert.Contains(t, body, want)
	}
}

func TestPredictPage_Render(t *testing.T) {
	y := 101.5
	var buf strings.Builder
	err := predictPage(formView{
		ModelName:  "stock-regressor",
		Version:    "<v2>",
		Values:     map[string]string{"Open": "100", "year": "2021"},
		Prediction: &y,
		Error:      "Open & High",
	}).Render(context.Background(), &buf)
	require.NoError(t, err)

	body := buf.String()
	assert.True(t, strings.HasPrefix(body, "<!doctype html>"))
	assert.Contains(t, body, "Model stock-regressor, version &lt;v2&gt;")
	assert.Contains(t, body, `<p class="error" role="alert">Open &amp; High</p>`)
	assert.Contains(t, body, `<output id="prediction">101.5000</output>`)
	assert.Contains(t, body, `<label for="Adj_Close">Adjusted close</label>`)
	assert.Contains(t, body, `step="any" id="Open" name="Open" value="100" required>`)
	assert.Contains(t, body, `step="1" id="year" name="year" value="2021" required>`)
	assert.Equal(t, len(model.FeatureColumns), strings.Count(body, "<input "))
}

func TestPredictPage_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf strings.Builder
	err := predictPage(formView{Values: map[string]string{}}).Render(ctx, &buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestPredictForm(t *testing.T) {
	tests := []struct {
		name       string
		loaded     bool
		overrides  map[string]string
		wantStatus int
		wantBody   string
	}{
		{name: "valid", loaded: true, wantStatus: http.StatusOK, wantBody: `<output id="prediction">2125.0000</output>`},
		{name: "missing field", loaded: true, overrides: map[string]string{"High": ""}, wantStatus: http.StatusBadRequest, wantBody: "High is required"},
		{name: "not a number", loaded: true, overrides: map[string]string{"Low": "abc"}, wantStatus: http.StatusBadRequest, wantBody: "Low must be a number"},
		{name: "fractional year", loaded: true, overrides: map[string]string{"year": "2020.5"}, wantStatus: http.StatusBadRequest, wantBody: "year must be a whole number"},
		{name: "no model", loaded: false, wantStatus: http.StatusServiceUnavailable, wantBody: "model not loaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.loaded).Handler()
			rec := do(t, h, http.MethodPost, "/predict", formType, formBody(tt.overrides))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.Contains(t, rec.Body.String(), "<form", "form is always re-rendered")
		})
	}
}

func TestPredictForm_EscapesValues(t *testing.T) {
	h := newTestServer(t, true).Handler()
	rec := do(t, h, http.MethodPost, "/predict", formType, formBody(map[string]string{"Open": `"><script>`}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>")
}

func TestPredictForm_SessionPrefill(t *testing.T) {
	h := newTestServer(t, true).Handler()
	rec := do(t, h, http.MethodPost, "/predict", formType, formBody(map[string]string{"Open": "123.5"}))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = do(t, h, http.MethodGet, "/", "", "", cookies...)
	assert.Contains(t, rec.Body.String(), `id="Open" name="Open" value="123.5"`)
	assert.Contains(t, rec.Body.String(), `id="year" name="year" value="2020"`)
}

// =============================================================================
// JSON endpoints
// =============================================================================

func TestHealth(t *testing.T) {
	for _, loaded := range []bool{true, false} {
		h := newTestServer(t, loaded).Handler()
		rec := do(t, h, http.MethodGet, "/health", "", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		if loaded {
			assert.JSONEq(t, `{"status":"healthy","model_loaded":true}`, rec.Body.String())
		} else {
			assert.JSONEq(t, `{"status":"healthy","model_loaded":false}`, rec.Body.String())
		}
	}
}

func TestMetadata(t *testing.T) {
	h := newTestServer(t, true).Handler()
	rec := do(t, h, http.MethodGet, "/v1/models/stock-regressor", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"name":"stock-regressor"`)
	assert.Contains(t, body, `"versions":["v1"]`)
	assert.Contains(t, body, `{"name":"Volume","datatype":"FP32","shape":[1]}`)
	assert.Contains(t, body, `{"name":"month","datatype":"INT32","shape":[1]}`)
	assert.Contains(t, body, `"outputs":[{"name":"prediction","datatype":"FP32","shape":[1]}]`)

	rec = do(t, h, http.MethodGet, "/v1/models/other", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKServePredict(t *testing.T) {
	tests := []struct {
		name       string
		loaded     bool
		body       string
		wantStatus int
		wantJSON   string
	}{
		{
			name:       "eight inputs",
			loaded:     true,
			body:       `{"inputs":[10,11,9,10.5,1000,2024,3,4]}`,
			wantStatus: http.StatusOK,
			wantJSON:   `{"model_name":"stock-regressor","model_version":"v1","outputs":[{"name":"prediction","datatype":"FP32","shape":[1],"data":[2034]}]}`,
		},
		{
			name:       "too few inputs",
			loaded:     true,
			body:       `{"inputs":[1,2,3]}`,
			wantStatus: http.StatusBadRequest,
			wantJSON:   `{"error":"Expected 8 input values"}`,
		},
		{
			name:       "missing inputs",
			loaded:     true,
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantJSON:   `{"error":"Expected 8 input values"}`,
		},
		{
			name:       "malformed body",
			loaded:     true,
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantJSON:   `{"error":"Invalid JSON body"}`,
		},
		{
			name:       "overflowing prediction",
			loaded:     true,
			body:       `{"inputs":[1e308,0,0,0,0,1e308,0,0]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantJSON:   `{"error":"prediction is not a finite number"}`,
		},
		{
			name:       "no model",
			loaded:     false,
			body:       `{"inputs":[1,2,3,4,5,6,7,8]}`,
			wantStatus: http.StatusServiceUnavailable,
			wantJSON:   `{"error":"model not loaded"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.loaded).Handler()
			rec := do(t, h, http.MethodPost, "/v1/models/stock-regressor:predict", "application/json", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantJSON, rec.Body.String())
		})
	}
}

func TestKServeInfer(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantData   string
		wantError  string
	}{
		{name: "list", body: `{"inputs":[10,11,9,10.5,1000,2024,3,4]}`, wantStatus: http.StatusOK, wantData: `"data":[2034]`},
		{name: "named with defaults", body: `{"inputs":{"Open":10}}`, wantStatus: http.StatusOK, wantData: `"data":[2034]`},
		{name: "named overrides year", body: `{"inputs":{"Open":1,"year":2000}}`, wantStatus: http.StatusOK, wantData: `"data":[2001]`},
		{name: "overflowing named", body: `{"inputs":{"Open":1e308,"year":1e308}}`, wantStatus: http.StatusUnprocessableEntity, wantError: `{"error":"prediction is not a finite number"}`},
		{name: "missing inputs", body: `{"instances":[]}`, wantStatus: http.StatusBadRequest, wantError: `{"error":"Missing 'inputs' field"}`},
		{name: "short list", body: `{"inputs":[1,2]}`, wantStatus: http.StatusBadRequest, wantError: `{"error":"Invalid input format"}`},
		{name: "string", body: `{"inputs":"abc"}`, wantStatus: http.StatusBadRequest, wantError: `{"error":"Invalid input format"}`},
		{name: "null", body: `{"inputs":null}`, wantStatus: http.StatusBadRequest, wantError: `{"error":"Invalid input format"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, true).Handler()
			rec := do(t, h, http.MethodPost, "/v1/models/stock-regressor/infer", "application/json", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.JSONEq(t, tt.wantError, rec.Body.String())
				return
			}
			assert.Contains(t, rec.Body.String(), tt.wantData)
			assert.Contains(t, rec.Body.String(), `"id":"`)
			assert.Contains(t, rec.Body.String(), `"model_version":"v1"`)
		})
	}
}

func TestCustomModelName(t *testing.T) {
	s := New(Config{ModelName: "fastapi-serve"})
	s.SetModel(testArtifact("v7"))
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/models/fastapi-serve:predict", "application/json", `{"inputs":[1,0,0,0,0,1,1,1]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model_name":"fastapi-serve"`)

	rec = do(t, h, http.MethodPost, "/v1/models/stock-regressor:predict", "application/json", `{"inputs":[1,0,0,0,0,1,1,1]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Model loading
// =============================================================================

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := objectstore.NewLocal(filepath.Join(dir, "bucket"), nil)
	require.NoError(t, err)

	local := filepath.Join(dir, "model.json")
	require.NoError(t, testArtifact("from-file").Save(local))
	require.NoError(t, objectstore.PutFile(ctx, store, "models/model.json", local))
	require.NoError(t, testArtifact("from-file").Save(local))

	t.Run("object store", func(t *testing.T) {
		s := New(Config{Store: store, ModelKey: "models/model.json"})
		require.NoError(t, s.Load(ctx))
		assert.Equal(t, "from-file", s.Model().Version)
	})

	t.Run("object store to local path", func(t *testing.T) {
		target := filepath.Join(dir, "downloaded", "model.json")
		s := New(Config{Store: store, ModelKey: "models/model.json", ModelPath: target})
		require.NoError(t, s.Load(ctx))
		assert.FileExists(t, target)
		assert.NotNil(t, s.Model())
	})

	t.Run("local file", func(t *testing.T) {
		s := New(Config{ModelPath: local})
		require.NoError(t, s.Load(ctx))
		assert.Equal(t, "stock-regressor", s.Model().Name)
	})

	t.Run("missing key", func(t *testing.T) {
		s := New(Config{Store: store, ModelKey: "models/nope.json"})
		err := s.Load(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, objectstore.ErrNotExist)
		assert.Nil(t, s.Model())
	})

	t.Run("no source", func(t *testing.T) {
		err := New(Config{}).Load(ctx)
		assert.ErrorContains(t, err, "no model source configured")
	})
}

func TestWatchModel_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trained_model", "model.json")
	require.NoError(t, testArtifact("v1").Save(path))

	s := New(Config{ModelPath: path, Watch: true, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, s.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchModel(ctx) }()

	next := testArtifact("v2")
	require.Eventually(t, func() bool {
		_ = next.Save(path)
		return s.Model().Version == "v2"
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestReload_KeepsModelOnBadFile(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "model.json", "{not json")
	s := newTestServer(t, true)

	s.reload(path)
	assert.Equal(t, "v1", s.Model().Version)
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"y": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to encode response"}`, rec.Body.String())
}
