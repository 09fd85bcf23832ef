// Package pipeline coordinates frames, the inference gate, and the three-stage
// segmentation model. It is structured into small files by concern:
//
//   - coordinator.go: Coordinator type, UpdateFrame, RequestSegmentation and Segment.
//   - config.go: Config and package defaults; NewWithConfig applies defaults.
//   - state.go: the shared state cell (latest frame, model readiness, in-flight gate).
//   - types.go: Frame, PromptPoint, Size, MaskImage, SegmentationResult.
//   - service.go: InferenceService contract implemented by model runtimes.
//   - convert.go: frame to encoder input conversion.
//   - errors.go: error types and helpers (IsInferenceFailed, IsInvalidPrompt).
//   - events.go: Presenter boundary and the in-memory presenter used by tests.
//   - metrics.go: Prometheus collectors for requests, stages and frames.
//
// Frames arrive continuously through UpdateFrame and only the newest is kept.
// Segmentation requests are single-flight: while one request is running its
// three stages, any other request returns immediately with a nil result and a
// nil error. Requests are never queued.
package pipeline
