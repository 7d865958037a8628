package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/windyield/windyield/pkg/analysis"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/openoa/openoamock"
	"github.com/windyield/windyield/pkg/sample"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/upload"
	"golang.org/x/time/rate"
)

const testOrigin = "http://localhost:5173"

const scadaCSV = "date_time,power,wind_speed\n" +
	"2024-01-01 00:00:00,1200,7.5\n" +
	"2024-01-01 00:10:00,1350,8.1\n" +
	"2024-01-01 00:20:00,980,6.2\n"

func newTestServer(t *testing.T, mockData bool, engine openoa.Engine) *Server {
	t.Helper()
	store, err := upload.New(upload.Config{Dir: t.TempDir(), MaxAge: 24 * time.Hour}, storage.NewMemory())
	require.NoError(t, err)
	m := metrics.New()
	svc := analysis.New(analysis.Config{UseMockData: mockData}, store, engine).WithMetrics(m)

	srv := &Server{
		appName:        "WindYield API",
		environment:    "test",
		corsOrigins:    []string{testOrigin},
		maxUploadBytes: 1 << 20,
		serverName:     "windyield",
	}
	return srv.WithDeps(Deps{
		Analysis: svc,
		Uploads:  store.WithMetrics(m),
		Sample:   sample.Embedded(),
		Engine:   engine,
		Metrics:  m,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", apiPrefix+"/upload-plant-data", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	w := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["timestamp"])

	assert.Equal(t, "windyield", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(t, h, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "Welcome to WindYield API", body["message"])
	assert.Equal(t, "/health", body["health"])
	assert.Equal(t, apiPrefix, body["api"])

	w = do(t, h, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInfo(t *testing.T) {
	t.Run("Engine Reachable", func(t *testing.T) {
		engine := &openoamock.MockEngine{}
		engine.On("Version", mock.Anything).Return("3.1.2", nil)
		h := newTestServer(t, true, engine).setupHandler()

		w := do(t, h, "GET", apiPrefix+"/info", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "WindYield API", body["name"])
		assert.Equal(t, "test", body["environment"])
		assert.Equal(t, "mock", body["analysis_mode"])
		assert.Equal(t, "3.1.2", body["openoa_version"])
		engine.AssertExpectations(t)
	})

	t.Run("Engine Down", func(t *testing.T) {
		engine := &openoamock.MockEngine{}
		engine.On("Version", mock.Anything).Return("", openoa.ErrUnavailable)
		h := newTestServer(t, true, engine).setupHandler()

		w := do(t, h, "GET", apiPrefix+"/info", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		v, ok := body["openoa_version"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})
}

func TestSampleEndpoints(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	w := do(t, h, "GET", apiPrefix+"/data/sample/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "La Haute Borne", body["plant_name"])
	assert.Equal(t, 8.2, body["capacity_mw"])
	assert.Equal(t, float64(4), body["num_turbines"])

	w = do(t, h, "GET", apiPrefix+"/data/sample/metadata", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Len(t, body["asset_list"], 4)
}

func TestAnalysisTypes(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	w := do(t, h, "GET", apiPrefix+"/analysis/types", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AnalysisTypes []struct {
			Type     string `json:"type"`
			Status   string `json:"status"`
			Endpoint string `json:"endpoint"`
		} `json:"analysis_types"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.AnalysisTypes, 5)
	assert.Equal(t, "aep", body.AnalysisTypes[0].Type)
	assert.Equal(t, "/api/v1/analysis/aep", body.AnalysisTypes[0].Endpoint)
	assert.Equal(t, "/api/v1/analysis/turbine-ideal-energy", body.AnalysisTypes[3].Endpoint)
	for _, at := range body.AnalysisTypes {
		assert.Equal(t, "available", at.Status)
	}
}

func TestMockAnalysisEndpoints(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	tests := []struct {
		name   string
		path   string
		body   string
		prefix string
		key    string
		want   any
	}{
		{"AEP Defaults", "/analysis/aep", "", "aep_", "aep_gwh", 25.14},
		{"AEP Params", "/analysis/aep", `{"iterations":500,"uncertainty_method":"analytical"}`, "aep_", "uncertainty_method", "analytical"},
		{"Electrical Losses", "/analysis/electrical-losses", `{"loss_threshold_pct":1}`, "elec_losses_", "exceeds_threshold", true},
		{"Wake Losses", "/analysis/wake-losses", `{"bin_width":2.5}`, "wake_losses_", "bin_width", 2.5},
		{"Ideal Energy", "/analysis/turbine-ideal-energy", `{}`, "turbine_ideal_", "use_lt_distribution", true},
		{"EYA Gap", "/analysis/eya-gap", `{"expected_aep_gwh":30}`, "eya_gap_", "gap_pct", -16.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", apiPrefix+tt.path, tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decode(t, w)

			id, _ := body["id"].(string)
			assert.True(t, strings.HasPrefix(id, tt.prefix), id)
			assert.Regexp(t, `_\d{8}_\d{6}_[0-9a-f]{6}$`, id)
			assert.Equal(t, "completed", body["status"])
			assert.NotEmpty(t, body["completed_at"])
			assert.NotContains(t, body, "error")

			result, ok := body["result"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.want, result[tt.key])
			assert.Equal(t, "sample", result["data_source"])
		})
	}
}

func TestAnalysisValidation(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	tests := []struct {
		name string
		path string
		body string
	}{
		{"Iterations Low", "/analysis/aep", `{"iterations":50}`},
		{"Iterations High", "/analysis/aep", `{"iterations":10001}`},
		{"Bad Method", "/analysis/aep", `{"uncertainty_method":"guess"}`},
		{"Bad JSON", "/analysis/aep", `{"iterations":`},
		{"Wrong Type", "/analysis/aep", `{"iterations":"many"}`},
		{"Trailing Data", "/analysis/aep", `{"iterations":500} {"iterations":1}`},
		{"Threshold", "/analysis/electrical-losses", `{"loss_threshold_pct":101}`},
		{"Bin Width", "/analysis/wake-losses", `{"bin_width":0.1}`},
		{"EYA Missing", "/analysis/eya-gap", `{}`},
		{"EYA Zero", "/analysis/eya-gap", `{"expected_aep_gwh":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", apiPrefix+tt.path, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decode(t, w)
			assert.Equal(t, errCodeValidation, body["error_code"])
			assert.NotEmpty(t, body["detail"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestAnalysisBodyTooLarge(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	body := `{"file_id":"` + strings.Repeat("a", maxAnalysisBodyBytes) + `"}`
	w := do(t, h, "POST", apiPrefix+"/analysis/aep", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, errCodeValidation, decode(t, w)["error_code"])
}

func TestRealAnalysisErrors(t *testing.T) {
	t.Run("Engine Unavailable", func(t *testing.T) {
		engine := &openoamock.MockEngine{}
		engine.On("RunAEP", mock.Anything, mock.Anything, mock.Anything).Return(openoa.AEPResults{}, openoa.ErrUnavailable)
		h := newTestServer(t, false, engine).setupHandler()

		w := do(t, h, "POST", apiPrefix+"/analysis/aep", `{}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, errCodeUnavailable, decode(t, w)["error_code"])
	})

	t.Run("Engine Failure Redacted", func(t *testing.T) {
		engine := &openoamock.MockEngine{}
		engine.On("RunWakeLosses", mock.Anything, mock.Anything, mock.Anything).Return(openoa.WakeLossResults{}, errors.New("secret stack trace"))
		h := newTestServer(t, false, engine).setupHandler()

		w := do(t, h, "POST", apiPrefix+"/analysis/wake-losses", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, errCodeInternal, body["error_code"])
		assert.Equal(t, "Wake loss analysis failed", body["detail"])
		assert.NotContains(t, w.Body.String(), "secret")
	})
}

func TestUploadLifecycle(t *testing.T) {
	srv := newTestServer(t, true, nil)
	h := srv.setupHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "Plant.CSV", scadaCSV))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	id, _ := body["file_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Plant.CSV", body["filename"])
	assert.Equal(t, "csv", body["file_type"])
	assert.Equal(t, float64(3), body["row_count"])
	assert.Equal(t, []any{"date_time", "power", "wind_speed"}, body["columns"])
	assert.Equal(t, float64(len(scadaCSV)), body["file_size_bytes"])

	w = do(t, h, "GET", apiPrefix+"/uploads/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["file_id"])

	w = do(t, h, "GET", apiPrefix+"/uploads", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["uploads"], 1)

	w = do(t, h, "POST", apiPrefix+"/analysis/aep", `{"file_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)["result"].(map[string]any)
	assert.Equal(t, "upload", result["data_source"])
	assert.Equal(t, id, result["file_id"])
	assert.Equal(t, 32.19, result["aep_gwh"])

	w = do(t, h, "DELETE", apiPrefix+"/uploads/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "DELETE", apiPrefix+"/uploads/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errCodeNotFound, decode(t, w)["error_code"])

	w = do(t, h, "GET", apiPrefix+"/uploads/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a deleted id falls back to the sample dataset
	w = do(t, h, "POST", apiPrefix+"/analysis/aep", `{"file_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	result = decode(t, w)["result"].(map[string]any)
	assert.Equal(t, "sample", result["data_source"])
}

func TestUploadRejected(t *testing.T) {
	srv := newTestServer(t, true, nil)
	srv.maxUploadBytes = 64
	h := srv.setupHandler()

	tests := []struct {
		name     string
		filename string
		content  string
		code     int
	}{
		{"Unsupported Extension", "plant.txt", "a,b\n1,2\n", http.StatusBadRequest},
		{"Invalid JSON", "plant.json", `{"time": [1, 2`, http.StatusBadRequest},
		{"Empty CSV", "plant.csv", "", http.StatusBadRequest},
		{"Too Large", "plant.csv", strings.Repeat("x", 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Equal(t, errCodeInvalidUpload, decode(t, w)["error_code"])
		})
	}

	t.Run("Missing File Field", func(t *testing.T) {
		w := do(t, h, "POST", apiPrefix+"/upload-plant-data", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUploadInvalidPlantData(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "plant.csv", "timestamp,temperature\n2024-01-01,12\n"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["file_id"].(string)

	w = do(t, h, "POST", apiPrefix+"/analysis/aep", `{"file_id":"`+id+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, errCodeInvalidPlant, body["error_code"])
	assert.Contains(t, body["detail"], "power")
}

func TestUploadRateLimit(t *testing.T) {
	srv := newTestServer(t, true, nil)
	srv.uploadLimiter = newIPLimiter(rate.Every(time.Hour), 1)
	h := srv.setupHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "plant.csv", scadaCSV))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "plant.csv", scadaCSV))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, errCodeRateLimited, decode(t, w)["error_code"])

	// other endpoints are not limited
	w = do(t, h, "GET", apiPrefix+"/uploads", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCleanup(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "plant.csv", scadaCSV))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "POST", apiPrefix+"/cleanup-old-files", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(0), body["files_removed"])
	assert.Equal(t, float64(1), body["files_remaining"])
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", apiPrefix+"/analysis/aep", nil)
		req.Header.Set("Origin", testOrigin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("Allowed Origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", testOrigin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Other Origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestParseCORSOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{`["http://a.example","http://b.example"]`, []string{"http://a.example", "http://b.example"}},
		{"http://a.example, http://b.example,", []string{"http://a.example", "http://b.example"}},
		{"*", []string{"*"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCORSOrigins(tt.in), tt.in)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"Internal server error","error_code":"INTERNAL_ERROR"}`, w.Body.String())

	abort := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, true, nil).setupHandler()

	do(t, h, "GET", "/health", "")
	do(t, h, "POST", apiPrefix+"/analysis/aep", `{}`)

	w := do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{code="200",handler="health",method="get"} 1`)
	assert.Contains(t, w.Body.String(), `windyield_analyses_total{kind="aep",mode="mock",outcome="success"} 1`)
}
