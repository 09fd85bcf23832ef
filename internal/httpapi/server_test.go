package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"segd/internal/pipeline"
	"segd/internal/present"
	"segd/pkg/types"
)

type mockService struct {
	mu     sync.Mutex
	frames []pipeline.Frame
	status pipeline.Status
	ready  bool
	result *pipeline.SegmentationResult
	reason string
	err    error
	points []pipeline.PromptPoint
	target pipeline.Size
	segCtx context.Context
}

func (m *mockService) StoreFrame(f pipeline.Frame) (pipeline.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	m.status.HasFrame = true
	m.status.FrameSeq++
	m.status.FrameWidth, m.status.FrameHeight = f.Width, f.Height
	f.Seq = m.status.FrameSeq
	return f, m.status.Busy
}

func (m *mockService) Segment(ctx context.Context, points []pipeline.PromptPoint, target pipeline.Size) (*pipeline.SegmentationResult, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points, m.target, m.segCtx = points, target, ctx
	return m.result, m.reason, m.err
}

func (m *mockService) Status() pipeline.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockService) Ready() bool { return m.ready }

func pngBody(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func postSegment(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/segment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func sampleResult() *pipeline.SegmentationResult {
	m := pipeline.NewMask(4, 2)
	m.Set(0, 0)
	m.Set(1, 0)
	return &pipeline.SegmentationResult{ID: "r1", Title: "Camera Segmentation", Mask: m, FrameSeq: 7, CreatedAt: time.UnixMilli(1700000000000)}
}

func TestPostFrames_DecodesImage(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngBody(t, 6, 4)))
	req.Header.Set("Content-Type", "image/png")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.FrameResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Seq != 1 || body.Width != 6 || body.Height != 4 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(svc.frames) != 1 || !svc.frames[0].Valid() {
		t.Fatalf("frame not forwarded")
	}
}

func TestPostFrames_RawRGBA(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc, nil)
	send := func(n int) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(make([]byte, n)))
		req.Header.Set("Content-Type", "application/x-rgba")
		req.Header.Set("X-Frame-Width", "2")
		req.Header.Set("X-Frame-Height", "3")
		h.ServeHTTP(w, req)
		return w.Code
	}
	if code := send(24); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if code := send(23); code != http.StatusBadRequest {
		t.Fatalf("short body status=%d", code)
	}
}

func TestPostFrames_RejectsGarbageAndOversize(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader("nope")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	SetMaxFrameBytes(16)
	defer SetMaxFrameBytes(0)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngBody(t, 32, 32))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversize status=%d", w.Code)
	}
	if len(svc.frames) != 0 {
		t.Fatalf("rejected frames must not reach the pipeline")
	}
}

func TestPostFrames_RejectsOverflowingRawDimensions(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc, nil)
	for _, dims := range [][2]string{{"2147483648", "2147483648"}, {"4097", "4096"}, {"1", "9223372036854775807"}} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(nil))
		req.Header.Set("Content-Type", "application/x-rgba")
		req.Header.Set("X-Frame-Width", dims[0])
		req.Header.Set("X-Frame-Height", dims[1])
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%sx%s: status=%d body=%s", dims[0], dims[1], w.Code, w.Body.String())
		}
	}
	if len(svc.frames) != 0 {
		t.Fatalf("rejected frames must not reach the pipeline")
	}
}

func TestPostFrames_RejectsImageOverPixelLimit(t *testing.T) {
	SetMaxFramePixels(100)
	defer SetMaxFramePixels(0)
	svc := &mockService{}
	h := NewMux(svc, nil)
	post := func(body []byte) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(body)))
		return w.Code
	}
	if code := post(pngBody(t, 10, 10)); code != http.StatusOK {
		t.Fatalf("at limit: status=%d", code)
	}
	if code := post(pngBody(t, 11, 10)); code != http.StatusBadRequest {
		t.Fatalf("over limit: status=%d", code)
	}
	if len(svc.frames) != 1 {
		t.Fatalf("frames forwarded=%d", len(svc.frames))
	}
}

func TestPostFrames_ReportsStoredSeq(t *testing.T) {
	svc := &mockService{status: pipeline.Status{FrameSeq: 40, Busy: true}}
	h := NewMux(svc, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngBody(t, 2, 2))))
	var body types.FrameResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	// another frame lands before anyone reads status
	svc.StoreFrame(pipeline.Frame{Width: 1, Height: 1, Pix: make([]byte, 4)})
	if body.Seq != 41 || !body.Busy {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSegment_Success(t *testing.T) {
	svc := &mockService{result: sampleResult()}
	h := NewMux(svc, nil)
	w := postSegment(t, h, `{"points":[{"x":0.5,"y":0.5},{"x":0.1,"y":0.2,"category":"bg"}],"target":{"width":4,"height":2}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.SegmentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Dropped || body.ID != "r1" || body.MaskArea != 2 || body.FrameSeq != 7 || body.CreatedAtUnixMs != 1700000000000 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(svc.points) != 2 || svc.points[1].Category != pipeline.Background || svc.target != (pipeline.Size{Width: 4, Height: 2}) {
		t.Fatalf("unexpected forwarded request: %+v %+v", svc.points, svc.target)
	}
}

func TestSegment_DefaultsTargetToFrameSize(t *testing.T) {
	svc := &mockService{result: sampleResult(), status: pipeline.Status{HasFrame: true, FrameWidth: 64, FrameHeight: 48}}
	w := postSegment(t, NewMux(svc, nil), `{"points":[{"x":0.5,"y":0.5}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.target != (pipeline.Size{Width: 64, Height: 48}) {
		t.Fatalf("target=%+v", svc.target)
	}
}

func TestSegment_NoFrameWithoutTargetIsDropped(t *testing.T) {
	svc := &mockService{}
	w := postSegment(t, NewMux(svc, nil), `{"points":[{"x":0.5,"y":0.5}]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.SegmentResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Dropped || body.Reason != pipeline.DropNoFrame {
		t.Fatalf("unexpected body: %+v", body)
	}
	if svc.segCtx != nil {
		t.Fatalf("pipeline should not be called")
	}
}

func TestSegment_DroppedMaps202(t *testing.T) {
	svc := &mockService{reason: pipeline.DropBusy}
	w := postSegment(t, NewMux(svc, nil), `{"points":[{"x":0.5,"y":0.5}],"target":{"width":4,"height":4}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"reason":"busy"`) {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestSegment_ErrorMapping(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		code  int
		stage string
	}{
		{"invalid", pipeline.ErrInvalidPrompt("bad"), http.StatusBadRequest, ""},
		{"unavailable", pipeline.ErrDependencyUnavailable("no model"), http.StatusServiceUnavailable, ""},
		{"failed", &pipeline.InferenceFailedError{Stage: pipeline.StageDecoding, Err: io.EOF}, http.StatusBadGateway, "decoding"},
		{"wrapped unavailable", fmt.Errorf("load: %w", pipeline.ErrDependencyUnavailable("no model")), http.StatusServiceUnavailable, ""},
		{"generic", io.EOF, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{err: tc.err}
			w := postSegment(t, NewMux(svc, nil), `{"points":[{"x":0.5,"y":0.5}],"target":{"width":4,"height":4}}`)
			if w.Code != tc.code {
				t.Fatalf("status=%d want %d", w.Code, tc.code)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.code || body.Stage != tc.stage {
				t.Fatalf("unexpected body: %+v", body)
			}
		})
	}
}

func TestSegment_BadRequests(t *testing.T) {
	h := NewMux(&mockService{}, nil)
	if w := postSegment(t, h, "not-json"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}
	if w := postSegment(t, h, `{"points":[{"x":0.5,"y":0.5,"category":"sky"}]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad category status=%d", w.Code)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/segment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("media type status=%d", w.Code)
	}
	big := `{"points":[` + strings.Repeat(`{"x":0.5,"y":0.5},`, 1<<16) + `{"x":0.5,"y":0.5}]}`
	if w := postSegment(t, h, big); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-large body, got %d", w.Code)
	}
}

func TestSegment_TimeoutAppliedToContext(t *testing.T) {
	SetSegmentTimeout(time.Minute)
	defer SetSegmentTimeout(0)
	svc := &mockService{reason: pipeline.DropBusy}
	postSegment(t, NewMux(svc, nil), `{"points":[{"x":0.5,"y":0.5}],"target":{"width":4,"height":4}}`)
	if _, ok := svc.segCtx.Deadline(); !ok {
		t.Fatalf("expected a deadline on the segment context")
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: pipeline.Status{ModelReady: true, Stage: pipeline.StageIdle, Completed: 3, Dropped: 2}}
	store := present.NewStore(0)
	store.SetHidden(true)
	store.Present(pipeline.Presentation{DropReason: pipeline.DropBusy})
	h := NewMux(svc, store)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.ModelReady || body.Stage != "idle" || body.Completed != 3 || body.Dropped != 2 || !body.OverlayHidden || body.LastDrop != "busy" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestDisplayRoutes(t *testing.T) {
	store := present.NewStore(0)
	h := NewMux(&mockService{}, store)
	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}
	for _, p := range []string{"/display/frame.png", "/display/mask.png", "/display/overlay.png"} {
		if w := get(p); w.Code != http.StatusNotFound {
			t.Fatalf("%s before data: status=%d", p, w.Code)
		}
	}

	pix := make([]byte, 4*4*2)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
	store.Present(pipeline.Presentation{Frame: &pipeline.Frame{Pix: pix, Width: 4, Height: 2, Seq: 1}})
	store.Present(pipeline.Presentation{Result: sampleResult()})

	for _, p := range []string{"/display/frame.png", "/display/mask.png", "/display/overlay.png"} {
		w := get(p)
		if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
			t.Fatalf("%s: status=%d ct=%s", p, w.Code, w.Header().Get("Content-Type"))
		}
		img, err := png.Decode(w.Body)
		if err != nil {
			t.Fatalf("%s: decode: %v", p, err)
		}
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
			t.Fatalf("%s: bounds=%v", p, img.Bounds())
		}
	}

	overlay := func() color.NRGBA {
		img, err := png.Decode(get("/display/overlay.png").Body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	}
	if c := overlay(); c.B == 0 {
		t.Fatalf("visible overlay should tint masked pixel: %+v", c)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/display/hidden", strings.NewReader(`{"hidden":true}`))
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !store.View().Hidden {
		t.Fatalf("hide failed: status=%d", w.Code)
	}
	if c := overlay(); c.B != 0 {
		t.Fatalf("hidden overlay should show the raw frame: %+v", c)
	}
	if !strings.Contains(get("/display/hidden").Body.String(), `"hidden":true`) {
		t.Fatalf("hidden flag not reported")
	}

	var hist []types.SegmentResponse
	if err := json.Unmarshal(get("/display/history").Body.Bytes(), &hist); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != "r1" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestDisplayNotMountedWithoutStore(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/display/frame.png", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{ready: true}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{ready: false}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestCORS_OptIn(t *testing.T) {
	SetCORSOptions(true, []string{"http://example.test"}, []string{"GET", "POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://example.test")
	NewMux(&mockService{}, nil).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.test" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestDisplayExport(t *testing.T) {
	store := present.NewStore(0)
	h := NewMux(&mockService{}, store)
	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/display/export", nil))
		return w
	}

	SetExportDir("")
	if w := post(); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured export: status=%d", w.Code)
	}

	dir := filepath.Join(t.TempDir(), "Segmentations")
	SetExportDir(dir)
	defer SetExportDir("")
	store.Present(pipeline.Presentation{Result: sampleResult()})
	store.Present(pipeline.Presentation{Result: sampleResult()})

	w := post()
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.ExportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Dir != dir || len(body.Paths) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	for i, p := range body.Paths {
		if want := filepath.Join(dir, fmt.Sprintf("segmentation_%d.png", i+1)); p != want {
			t.Fatalf("path %d=%s want %s", i, p, want)
		}
		f, err := os.Open(p)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
			t.Fatalf("%s bounds=%v", p, img.Bounds())
		}
	}
}

func TestDisplayExport_EmptyHistory(t *testing.T) {
	SetExportDir(t.TempDir())
	defer SetExportDir("")
	w := httptest.NewRecorder()
	NewMux(&mockService{}, present.NewStore(0)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/display/export", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"paths":[]`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
