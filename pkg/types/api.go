package types

// Point is a normalized prompt coordinate.
type Point struct {
	// Horizontal position in [0,1], left to right.
	// example: 0.5
	X float64 `json:"x" example:"0.5"`
	// Vertical position in [0,1], top to bottom.
	// example: 0.5
	Y float64 `json:"y" example:"0.5"`
	// Point label: foreground (default) or background.
	// example: foreground
	Category string `json:"category,omitempty" example:"foreground"`
}

// Size is a width/height pair in pixels.
type Size struct {
	// example: 640
	Width int `json:"width" example:"640"`
	// example: 480
	Height int `json:"height" example:"480"`
}

// SegmentRequest is the body of POST /segment.
type SegmentRequest struct {
	// Prompt points; at least one is required.
	Points []Point `json:"points"`
	// Output mask size. When omitted, the size of the latest frame is used.
	Target *Size `json:"target,omitempty"`
}

// SegmentResponse describes the outcome of one segmentation request.
type SegmentResponse struct {
	// True when the request was dropped without producing a mask.
	// example: false
	Dropped bool `json:"dropped"`
	// Drop reason (busy, no_frame, model_not_ready, empty_mask).
	// example: busy
	Reason string `json:"reason,omitempty" example:"busy"`
	// Result identifier.
	// example: 0f8fad5b-d9cb-469f-a165-70867728950e
	ID string `json:"id,omitempty" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	// example: Camera Segmentation
	Title string `json:"title,omitempty" example:"Camera Segmentation"`
	// Sequence number of the frame the mask was computed from.
	// example: 42
	FrameSeq uint64 `json:"frame_seq,omitempty" example:"42"`
	// example: 640
	MaskWidth int `json:"mask_width,omitempty" example:"640"`
	// example: 480
	MaskHeight int `json:"mask_height,omitempty" example:"480"`
	// Number of pixels inside the mask.
	// example: 51234
	MaskArea int `json:"mask_area,omitempty" example:"51234"`
	// Completion time in unix milliseconds.
	// example: 1700000000000
	CreatedAtUnixMs int64 `json:"created_at_unix_ms,omitempty" example:"1700000000000"`
}

// FrameResponse is returned by POST /frames.
type FrameResponse struct {
	// Sequence number assigned to the stored frame.
	// example: 42
	Seq uint64 `json:"seq" example:"42"`
	// example: 640
	Width int `json:"width" example:"640"`
	// example: 480
	Height int `json:"height" example:"480"`
	// True when an inference was in flight at arrival.
	// example: false
	Busy bool `json:"busy" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Pipeline stage that failed, for inference failures.
	// example: encoding
	Stage string `json:"stage,omitempty" example:"encoding"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// example: true
	ModelReady bool `json:"model_ready" example:"true"`
	// True while a request holds the inference gate.
	// example: false
	Busy bool `json:"busy" example:"false"`
	// Current stage (idle, encoding, prompt_encoding, decoding).
	// example: idle
	Stage string `json:"stage" example:"idle"`
	// example: true
	HasFrame bool `json:"has_frame" example:"true"`
	// example: 42
	FrameSeq uint64 `json:"frame_seq" example:"42"`
	// example: 640
	FrameWidth int `json:"frame_width" example:"640"`
	// example: 480
	FrameHeight int `json:"frame_height" example:"480"`
	// example: 1200
	FramesReceived uint64 `json:"frames_received" example:"1200"`
	// example: 1100
	FramesOverwritten uint64 `json:"frames_overwritten" example:"1100"`
	// example: 30
	Completed uint64 `json:"completed" example:"30"`
	// example: 12
	Dropped uint64 `json:"dropped" example:"12"`
	// example: 1
	Failed uint64 `json:"failed" example:"1"`
	// Whether the display overlay is hidden.
	// example: false
	OverlayHidden bool `json:"overlay_hidden" example:"false"`
	// Last drop reason observed by the display.
	LastDrop string `json:"last_drop,omitempty"`
	// Last error observed by the display.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// HiddenRequest is the body of PUT /display/hidden.
type HiddenRequest struct {
	// example: true
	Hidden bool `json:"hidden" example:"true"`
}

// ExportResponse lists the mask files written by POST /display/export.
type ExportResponse struct {
	Dir   string   `json:"dir" example:"Segmentations"`
	Paths []string `json:"paths"`
}
