//go:build !onnx

package embedding

import "errors"

// newONNXEmbedder is unavailable without the "onnx" build tag.
// Build with `go build -tags onnx` to enable the local ONNX backend.
func newONNXEmbedder(Config) (Embedder, error) {
	return nil, errors.New("onnx backend not compiled in (build with -tags onnx)")
}
