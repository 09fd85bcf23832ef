package e2e

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"segd/internal/httpapi"
	"segd/internal/pipeline"
	"segd/internal/present"
)

// newServer wires a coordinator, display store and HTTP mux around svc.
func newServer(t *testing.T, svc pipeline.InferenceService, ready bool) (*httptest.Server, *pipeline.Coordinator, *present.Store) {
	t.Helper()
	coord := pipeline.NewWithConfig(pipeline.Config{Service: svc, EncoderSize: 64, ModelReady: ready})
	store := present.NewStore(0)
	coord.SetPresenter(store)
	srv := httptest.NewServer(httpapi.NewMux(coord, store))
	t.Cleanup(srv.Close)
	return srv, coord, store
}

// splitPNG encodes a w x h image, red on the left half and blue on the right.
func splitPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 220, A: 255}
			if x >= w/2 {
				c = color.NRGBA{B: 220, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func postFrame(t *testing.T, base string, body []byte) {
	t.Helper()
	resp, err := http.Post(base+"/frames", "image/png", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post frame: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("post frame status=%d body=%s", resp.StatusCode, b)
	}
}

func postSegment(t *testing.T, base, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(base+"/segment", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post segment: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

// newModelServer starts h as a stand-in model server and returns its URL.
func newModelServer(t *testing.T, h http.Handler) string {
	t.Helper()
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	return s.URL
}
