package holderd

import "context"

// VisionOracle answers a classification question about one image crop.
// When provided via WithOracle, replaces the built-in OpenAI vision client.
// Implementations should honour ctx cancellation; the aggregator bounds
// every call with its own timeout.
type VisionOracle interface {
	Analyze(ctx context.Context, image []byte, instruction string) (VisionReply, error)
}

// Photo supplies the image bytes for each named region of one photograph.
type Photo interface {
	Region(ctx context.Context, name string) ([]byte, error)
}

// PhotoSource resolves a subject id to its photograph. Returning an error
// means no photo is available and the vision source is skipped for that
// subject; it never fails the decision.
type PhotoSource interface {
	Photo(ctx context.Context, subjectID string) (Photo, error)
}
