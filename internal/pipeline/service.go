package pipeline

import "context"

// InferenceService abstracts the three-stage segmentation model.
// It is stateful: for one logical request EncodeImage must precede
// EncodePrompt, which must precede DecodeMask. The Coordinator is the sole
// enforcer of that order and never lets two requests interleave.
type InferenceService interface {
	// EncodeImage computes the image embedding from ARGB pixels of size width x height.
	EncodeImage(ctx context.Context, pixels []byte, width, height int) error
	// EncodePrompt encodes the prompt points relative to the target size.
	EncodePrompt(ctx context.Context, points []PromptPoint, target Size) error
	// DecodeMask produces the mask at the target size. A nil mask with a nil
	// error means the model found nothing to segment.
	DecodeMask(ctx context.Context, target Size) (*MaskImage, error)
}

// Loader is implemented by services that need an explicit load step before
// they can accept requests.
type Loader interface {
	Load(ctx context.Context) error
}
