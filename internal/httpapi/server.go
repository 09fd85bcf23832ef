package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segd/internal/frames"
	"segd/internal/pipeline"
	"segd/internal/present"
	"segd/pkg/types"
)

// Service defines the pipeline operations required by the HTTP API layer.
type Service interface {
	StoreFrame(f pipeline.Frame) (pipeline.Frame, bool)
	Segment(ctx context.Context, points []pipeline.PromptPoint, target pipeline.Size) (*pipeline.SegmentationResult, string, error)
	Status() pipeline.Status
	Ready() bool
}

// Display is the presentation state exposed under /display.
type Display interface {
	View() present.View
	SetHidden(hidden bool)
	History() []*pipeline.SegmentationResult
}

var startTime = time.Now()

// NewMux builds the HTTP handler. disp may be nil, in which case the
// /display routes are not mounted.
func NewMux(svc Service, disp Display) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/frames", func(w http.ResponseWriter, r *http.Request) {
		f, err := readFrame(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		stored, busy := svc.StoreFrame(f)
		if e := reqEvent(r, LevelDebug); e != nil {
			e.Uint64("seq", stored.Seq).Int("width", f.Width).Int("height", f.Height).Msg("frame stored")
		}
		writeJSON(w, http.StatusOK, types.FrameResponse{Seq: stored.Seq, Width: f.Width, Height: f.Height, Busy: busy})
	})

	r.Post("/segment", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.SegmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		points, err := toPromptPoints(req.Points)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		var target pipeline.Size
		if req.Target != nil {
			target = pipeline.Size{Width: req.Target.Width, Height: req.Target.Height}
		} else {
			st := svc.Status()
			if !st.HasFrame {
				IncrementDropped(pipeline.DropNoFrame)
				writeJSON(w, http.StatusAccepted, types.SegmentResponse{Dropped: true, Reason: pipeline.DropNoFrame})
				return
			}
			target = pipeline.Size{Width: st.FrameWidth, Height: st.FrameHeight}
		}

		start := time.Now()
		if e := reqEvent(r, LevelInfo); e != nil {
			e.Int("points", len(points)).Int("target_w", target.Width).Int("target_h", target.Height).Msg("segment start")
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if segmentTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, segmentTimeout)
			defer tcancel()
		}
		res, reason, err := svc.Segment(ctx, points, target)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			status := writeSegmentError(w, err)
			lvl := LevelInfo
			if status >= http.StatusInternalServerError {
				lvl = LevelError
			}
			if e := reqEvent(r, lvl); e != nil {
				e.Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("segment end")
			}
			return
		}
		if res == nil {
			IncrementDropped(reason)
			writeJSON(w, http.StatusAccepted, types.SegmentResponse{Dropped: true, Reason: reason})
			if e := reqEvent(r, LevelInfo); e != nil {
				e.Int("status", http.StatusAccepted).Str("reason", reason).Dur("dur", time.Since(start)).Msg("segment end")
			}
			return
		}
		writeJSON(w, http.StatusOK, toSegmentResponse(res))
		if e := reqEvent(r, LevelInfo); e != nil {
			e.Int("status", http.StatusOK).Str("id", res.ID).Dur("dur", time.Since(start)).Msg("segment end")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := svc.Status()
		resp := types.StatusResponse{
			ModelReady:        st.ModelReady,
			Busy:              st.Busy,
			Stage:             string(st.Stage),
			HasFrame:          st.HasFrame,
			FrameSeq:          st.FrameSeq,
			FrameWidth:        st.FrameWidth,
			FrameHeight:       st.FrameHeight,
			FramesReceived:    st.FramesReceived,
			FramesOverwritten: st.FramesOverwritten,
			Completed:         st.Completed,
			Dropped:           st.Dropped,
			Failed:            st.Failed,
			UptimeSeconds:     int64(time.Since(startTime).Seconds()),
			ServerTimeUnix:    time.Now().Unix(),
		}
		if disp != nil {
			v := disp.View()
			resp.OverlayHidden = v.Hidden
			resp.LastDrop = v.LastDrop
			resp.LastError = v.LastError
		}
		writeJSON(w, http.StatusOK, resp)
	})

	if disp != nil {
		r.Route("/display", func(r chi.Router) { mountDisplay(r, disp) })
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

func mountDisplay(r chi.Router, disp Display) {
	r.Get("/frame.png", func(w http.ResponseWriter, r *http.Request) {
		v := disp.View()
		if v.Frame == nil {
			writeJSONError(w, http.StatusNotFound, "no frame yet")
			return
		}
		writePNG(w, r, v.Frame.Image())
	})

	r.Get("/mask.png", func(w http.ResponseWriter, r *http.Request) {
		v := disp.View()
		if v.Result == nil || v.Result.Mask == nil {
			writeJSONError(w, http.StatusNotFound, "no segmentation yet")
			return
		}
		writePNG(w, r, present.Gray(v.Result.Mask))
	})

	r.Get("/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		v := disp.View()
		if v.Frame == nil {
			writeJSONError(w, http.StatusNotFound, "no frame yet")
			return
		}
		opacity := present.DefaultOpacity
		if v.Hidden {
			opacity = 0
		}
		var mask *pipeline.MaskImage
		if v.Result != nil {
			mask = v.Result.Mask
		}
		writePNG(w, r, present.Overlay(*v.Frame, mask, opacity))
	})

	r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
		hist := disp.History()
		out := make([]types.SegmentResponse, 0, len(hist))
		for _, res := range hist {
			out = append(out, toSegmentResponse(res))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/hidden", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HiddenRequest{Hidden: disp.View().Hidden})
	})

	r.Put("/hidden", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.HiddenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		disp.SetHidden(req.Hidden)
		writeJSON(w, http.StatusOK, req)
	})

	r.Post("/export", func(w http.ResponseWriter, r *http.Request) {
		if exportDir == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "export directory not configured")
			return
		}
		hist := disp.History()
		paths, err := present.ExportMasks(exportDir, hist)
		if err != nil {
			if e := reqEvent(r, LevelError); e != nil {
				e.Err(err).Str("dir", exportDir).Msg("export failed")
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if paths == nil {
			paths = []string{}
		}
		if e := reqEvent(r, LevelInfo); e != nil {
			e.Str("dir", exportDir).Int("written", len(paths)).Msg("masks exported")
		}
		writeJSON(w, http.StatusOK, types.ExportResponse{Dir: exportDir, Paths: paths})
	})
}

// readFrame decodes the body of POST /frames. Encoded images (png, jpeg,
// gif) are accepted with any content type; application/x-rgba takes raw
// RGBA pixels sized by X-Frame-Width and X-Frame-Height.
func readFrame(w http.ResponseWriter, r *http.Request) (pipeline.Frame, error) {
	body := http.MaxBytesReader(w, r.Body, maxFrameBytes)
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-rgba") {
		f, err := frames.DecodeBounded(body, framePixelLimit())
		if err != nil {
			return pipeline.Frame{}, fmt.Errorf("invalid image body: %w", err)
		}
		return f, nil
	}
	width, err1 := strconv.Atoi(r.Header.Get("X-Frame-Width"))
	height, err2 := strconv.Atoi(r.Header.Get("X-Frame-Height"))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return pipeline.Frame{}, errors.New("X-Frame-Width and X-Frame-Height must be positive integers")
	}
	if limit := framePixelLimit(); int64(width) > limit/int64(height) {
		return pipeline.Frame{}, fmt.Errorf("frame %dx%d exceeds %d pixels", width, height, limit)
	}
	pix, err := io.ReadAll(body)
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("read body: %w", err)
	}
	f := pipeline.Frame{Pix: pix, Width: width, Height: height, CapturedAt: time.Now()}
	if !f.Valid() {
		return pipeline.Frame{}, fmt.Errorf("body has %d bytes, want %d for %dx%d RGBA", len(pix), 4*width*height, width, height)
	}
	return f, nil
}

func toPromptPoints(in []types.Point) ([]pipeline.PromptPoint, error) {
	out := make([]pipeline.PromptPoint, 0, len(in))
	for i, p := range in {
		cat, ok := pipeline.ParseCategory(p.Category)
		if !ok {
			return nil, fmt.Errorf("point %d: unknown category %q", i, p.Category)
		}
		out = append(out, pipeline.PromptPoint{X: p.X, Y: p.Y, Category: cat})
	}
	return out, nil
}

func toSegmentResponse(res *pipeline.SegmentationResult) types.SegmentResponse {
	out := types.SegmentResponse{
		ID:              res.ID,
		Title:           res.Title,
		FrameSeq:        res.FrameSeq,
		CreatedAtUnixMs: res.CreatedAt.UnixMilli(),
	}
	if res.Mask != nil {
		out.MaskWidth = res.Mask.Width
		out.MaskHeight = res.Mask.Height
		out.MaskArea = res.Mask.Area()
	}
	return out
}

func writePNG(w http.ResponseWriter, r *http.Request, img image.Image) {
	var buf bytes.Buffer
	if err := present.EncodePNG(&buf, img); err != nil {
		if e := reqEvent(r, LevelError); e != nil {
			e.Err(err).Msg("png encode failed")
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to encode image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
