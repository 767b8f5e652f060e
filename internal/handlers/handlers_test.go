package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/Brownie44l1/damage-api/internal/model"
	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

// fakeModel scores an image by its mean red intensity.
type fakeModel struct {
	model.Metadata

	mu     sync.Mutex
	calls  int
	shapes [][4]int
	err    error
}

func (f *fakeModel) Predict(input *preprocess.Tensor) (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.shapes = append(f.shapes, input.Shape)
	if f.err != nil {
		return 0, &model.PredictionError{Err: f.err}
	}
	var sum float32
	for i := 0; i < len(input.Data); i += preprocess.Channels {
		sum += input.Data[i]
	}
	return sum / float32(len(input.Data)/preprocess.Channels), nil
}

func newFakeModel() *fakeModel {
	return &fakeModel{Metadata: model.Metadata{
		InputShape:      []int64{-1, 128, 128, 3},
		OutputShape:     []int64{-1, 1},
		TotalParameters: 100,
		TrainableWeights: []model.Weight{
			{Name: "dense/kernel", Shape: []int64{8, 8}},
			{Name: "dense/bias", Shape: []int64{4}},
		},
		Layers: []model.Layer{{Name: "dense", Type: "Dense", OutputShape: []int64{-1, 1}, Parameters: 100}},
	}}
}

func newTestRouter(m model.Model) http.Handler {
	return NewRouter(NewHandler(Options{
		Model:          m,
		ModelName:      "test classifier",
		Architecture:   "test architecture",
		MaxUploadBytes: 1 << 20,
	}))
}

func solidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, build func(mw *multipart.Writer)) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	build(mw)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func multipartFile(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	return multipartBody(t, func(mw *multipart.Writer) {
		fw, err := mw.CreateFormFile(field, "upload.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(data)
	})
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rr.Code, status, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != message {
		t.Fatalf("unexpected error: got=%q want=%q", got, message)
	}
}

func assertPrediction(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["prediction"]; got != want {
		t.Fatalf("unexpected prediction: got=%v want=%s", got, want)
	}
}

func TestInferenceRawBody(t *testing.T) {
	m := newFakeModel()
	router := newTestRouter(m)

	red := solidPNG(t, color.RGBA{R: 255, A: 255}, 300, 200)
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(red))
	req.Header.Set("Content-Type", "application/octet-stream")
	assertPrediction(t, serve(router, req), "damage")

	black := solidPNG(t, color.RGBA{A: 255}, 64, 64)
	req = httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(black))
	assertPrediction(t, serve(router, req), "no_damage")

	if m.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", m.calls)
	}
	for _, shape := range m.shapes {
		if shape != [4]int{1, 128, 128, 3} {
			t.Fatalf("model received shape %v", shape)
		}
	}
}

func TestInferenceMultipartMatchesRawBody(t *testing.T) {
	router := newTestRouter(newFakeModel())
	for _, c := range []color.RGBA{{R: 255, A: 255}, {R: 10, G: 200, A: 255}, {R: 128, B: 90, A: 255}} {
		data := solidPNG(t, c, 97, 131)

		rawReq := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(data))
		rawRR := serve(router, rawReq)

		body, contentType := multipartFile(t, "image", data)
		formReq := httptest.NewRequest(http.MethodPost, "/inference", body)
		formReq.Header.Set("Content-Type", contentType)
		formRR := serve(router, formReq)

		if rawRR.Code != http.StatusOK || formRR.Code != http.StatusOK {
			t.Fatalf("unexpected status raw=%d form=%d", rawRR.Code, formRR.Code)
		}
		if rawRR.Body.String() != formRR.Body.String() {
			t.Fatalf("labels differ: raw=%s form=%s", rawRR.Body.String(), formRR.Body.String())
		}
	}
}

func TestInferenceMultipartFileWinsOverTextField(t *testing.T) {
	router := newTestRouter(newFakeModel())
	data := solidPNG(t, color.RGBA{R: 255, A: 255}, 16, 16)
	body, contentType := multipartBody(t, func(mw *multipart.Writer) {
		mw.WriteField("note", "ignored")
		fw, err := mw.CreateFormFile("image", "roof.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(data)
	})
	req := httptest.NewRequest(http.MethodPost, "/inference", body)
	req.Header.Set("Content-Type", contentType)
	assertPrediction(t, serve(router, req), "damage")
}

func TestInferenceRejectsTextField(t *testing.T) {
	router := newTestRouter(newFakeModel())

	body, contentType := multipartBody(t, func(mw *multipart.Writer) {
		mw.WriteField("image", "aGVsbG8=")
	})
	req := httptest.NewRequest(http.MethodPost, "/inference", body)
	req.Header.Set("Content-Type", contentType)
	assertError(t, serve(router, req), http.StatusBadRequest, msgFormField)

	form := url.Values{"image": {"aGVsbG8="}}
	req = httptest.NewRequest(http.MethodPost, "/inference", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assertError(t, serve(router, req), http.StatusBadRequest, msgFormField)
}

func TestInferenceNoImageData(t *testing.T) {
	router := newTestRouter(newFakeModel())

	req := httptest.NewRequest(http.MethodPost, "/inference", nil)
	assertError(t, serve(router, req), http.StatusBadRequest, msgNoImage)

	body, contentType := multipartBody(t, func(mw *multipart.Writer) {
		mw.WriteField("other", "value")
	})
	req = httptest.NewRequest(http.MethodPost, "/inference", body)
	req.Header.Set("Content-Type", contentType)
	assertError(t, serve(router, req), http.StatusBadRequest, msgNoImage)

	req = httptest.NewRequest(http.MethodPost, "/inference", strings.NewReader("other=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assertError(t, serve(router, req), http.StatusBadRequest, msgNoImage)

	body, contentType = multipartFile(t, "image", nil)
	req = httptest.NewRequest(http.MethodPost, "/inference", body)
	req.Header.Set("Content-Type", contentType)
	assertError(t, serve(router, req), http.StatusBadRequest, msgNoImage)
}

func TestInferenceUndecodableBytes(t *testing.T) {
	m := newFakeModel()
	router := newTestRouter(m)

	noise := make([]byte, 2048)
	rand.New(rand.NewSource(7)).Read(noise)
	valid := solidPNG(t, color.RGBA{G: 255, A: 255}, 40, 40)

	for name, data := range map[string][]byte{
		"noise":     noise,
		"truncated": valid[:len(valid)/2],
		"header":    valid[:12],
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(data))
			rr := serve(router, req)
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
			}
			msg, _ := decodeBody(t, rr)["error"].(string)
			if !strings.HasPrefix(msg, msgProcessing) || len(msg) == len(msgProcessing) {
				t.Fatalf("unexpected error message %q", msg)
			}
		})
	}
	if m.calls != 0 {
		t.Fatalf("model must not run on undecodable input, ran %d times", m.calls)
	}
}

func TestInferencePredictionFailure(t *testing.T) {
	m := newFakeModel()
	m.err = errors.New("session exploded")
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(solidPNG(t, color.RGBA{A: 255}, 8, 8)))
	assertError(t, serve(router, req), http.StatusInternalServerError, msgProcessing+"inference failed: session exploded")
}

func TestInferenceTooLarge(t *testing.T) {
	router := NewRouter(NewHandler(Options{Model: newFakeModel(), MaxUploadBytes: 64}))
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(make([]byte, 1024)))
	assertError(t, serve(router, req), http.StatusRequestEntityTooLarge, msgTooLarge)
}

func TestModelNotLoaded(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(solidPNG(t, color.RGBA{A: 255}, 8, 8)))
	assertError(t, serve(router, req), http.StatusInternalServerError, msgModelNotLoaded)

	req = httptest.NewRequest(http.MethodPost, "/inference", nil)
	assertError(t, serve(router, req), http.StatusInternalServerError, msgModelNotLoaded)

	req = httptest.NewRequest(http.MethodGet, "/summary", nil)
	assertError(t, serve(router, req), http.StatusInternalServerError, msgModelNotLoaded)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := serve(router, req)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["model_loaded"] != false {
		t.Fatalf("unexpected health response: %d %s", rr.Code, rr.Body.String())
	}
}

func TestSummary(t *testing.T) {
	router := newTestRouter(newFakeModel())
	rr := serve(router, httptest.NewRequest(http.MethodGet, "/summary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}

	var out model.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if out.ModelName != "test classifier" || out.Architecture != "test architecture" {
		t.Fatalf("unexpected names: %+v", out)
	}
	if len(out.InputShape) != 3 || out.InputShape[0] != 128 || out.InputShape[2] != 3 {
		t.Fatalf("unexpected input shape %v", out.InputShape)
	}
	if len(out.OutputShape) != 1 || out.OutputShape[0] != 1 {
		t.Fatalf("unexpected output shape %v", out.OutputShape)
	}
	if out.TotalParameters != 100 || out.TrainableParameters != 68 || out.NonTrainableParameters != 32 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.TrainableParameters+out.NonTrainableParameters != out.TotalParameters {
		t.Fatalf("counts do not add up: %+v", out)
	}
	if !strings.Contains(out.Summary, " dense (Dense)") || !strings.Contains(out.Summary, "\n") {
		t.Fatalf("unexpected summary text %q", out.Summary)
	}

	raw := decodeBody(t, rr)
	for _, key := range []string{"model_name", "architecture", "input_shape", "output_shape", "total_parameters", "trainable_parameters", "non_trainable_parameters", "summary"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("summary missing key %q", key)
		}
	}
}

func TestSummaryNullShapes(t *testing.T) {
	m := newFakeModel()
	m.InputShape = nil
	m.OutputShape = nil
	rr := serve(newTestRouter(m), httptest.NewRequest(http.MethodGet, "/summary", nil))
	raw := decodeBody(t, rr)
	if raw["input_shape"] != nil || raw["output_shape"] != nil {
		t.Fatalf("expected null shapes, got %v %v", raw["input_shape"], raw["output_shape"])
	}
}

func TestRouting(t *testing.T) {
	router := newTestRouter(newFakeModel())

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/inference", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	rr = serve(router, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(router, httptest.NewRequest(http.MethodOptions, "/inference", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", rr.Code, rr.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr = serve(router, req)
	if rr.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("request id not echoed: %v", rr.Header())
	}
	rr = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id not generated")
	}
}

func TestConcurrentInference(t *testing.T) {
	m := newFakeModel()
	router := newTestRouter(m)
	data := solidPNG(t, color.RGBA{R: 200, A: 255}, 50, 50)

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := serve(router, httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(data)))
			if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"damage"`) {
				errs <- rr.Body.String()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("unexpected concurrent response %s", e)
	}
}
