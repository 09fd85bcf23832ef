package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"segd/internal/pipeline"
)

// Remote implements pipeline.InferenceService by talking to a model server
// over HTTP. The server keeps the per-request state between the three calls,
// so one Remote must only be driven by one coordinator.
type Remote struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewRemote constructs a server-backed service.
func NewRemote(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) *Remote {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every call carries a context deadline instead.
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type remotePoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"` // 1 foreground, 0 background
}

type remoteSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type encodePromptRequest struct {
	Points []remotePoint `json:"points"`
	Target remoteSize    `json:"target"`
}

type decodeMaskRequest struct {
	Target remoteSize `json:"target"`
}

// Load checks that the model server answers its health endpoint.
func (r *Remote) Load(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// EncodeImage uploads raw ARGB pixels.
func (r *Remote) EncodeImage(ctx context.Context, pixels []byte, width, height int) error {
	hdr := http.Header{}
	hdr.Set("X-Image-Width", strconv.Itoa(width))
	hdr.Set("X-Image-Height", strconv.Itoa(height))
	hdr.Set("X-Pixel-Format", "argb32")
	resp, err := r.do(ctx, http.MethodPost, "/encode_image", "application/octet-stream", bytes.NewReader(pixels), hdr)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// EncodePrompt sends the prompt points.
func (r *Remote) EncodePrompt(ctx context.Context, points []pipeline.PromptPoint, target pipeline.Size) error {
	payload := encodePromptRequest{Target: remoteSize{Width: target.Width, Height: target.Height}}
	for _, p := range points {
		label := 1
		if p.Category == pipeline.Background {
			label = 0
		}
		payload.Points = append(payload.Points, remotePoint{X: p.X, Y: p.Y, Label: label})
	}
	body, _ := json.Marshal(payload)
	resp, err := r.do(ctx, http.MethodPost, "/encode_prompt", "application/json", bytes.NewReader(body), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DecodeMask fetches the mask as PNG. 204 No Content means no mask.
func (r *Remote) DecodeMask(ctx context.Context, target pipeline.Size) (*pipeline.MaskImage, error) {
	body, _ := json.Marshal(decodeMaskRequest{Target: remoteSize{Width: target.Width, Height: target.Height}})
	resp, err := r.do(ctx, http.MethodPost, "/decode_mask", "application/json", bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decode_mask: decode png")
	}
	if b := img.Bounds(); b.Dx() != target.Width || b.Dy() != target.Height {
		img = imaging.Resize(img, target.Width, target.Height, imaging.NearestNeighbor)
	}
	return pipeline.MaskFromImage(img), nil
}

// do issues a request with the configured timeout and maps non-2xx replies to errors.
func (r *Remote) do(ctx context.Context, method, path, contentType string, body io.Reader, hdr http.Header) (*http.Response, error) {
	if r.httpClient == nil || r.baseURL == "" {
		return nil, errors.New("remote inference service not configured")
	}
	if r.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.reqTimeout)
		resp, err := r.send(ctx, method, path, contentType, body, hdr)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return r.send(ctx, method, path, contentType, body, hdr)
}

func (r *Remote) send(ctx context.Context, method, path, contentType string, body io.Reader, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		// Translate context timeouts/cancels
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s %s", method, path)
		}
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.Errorf("%s %s: model server http error: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
