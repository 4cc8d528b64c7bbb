//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const onnxMaxSeqLen = 128

// ONNXEmbedder runs a sentence-transformer exported to ONNX and mean-pools
// the last hidden state into a unit vector.
type ONNXEmbedder struct {
	mu        sync.Mutex // session.Run is not documented as goroutine-safe
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPiece
	dims      int
}

func newONNXEmbedder(cfg Config) (Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model_path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("onnx: tokenizer_path is required")
	}
	dims := cfg.Dims
	if dims <= 0 {
		dims = 384
	}

	if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	tok, err := loadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()

	if cfg.Device == "cuda" {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("onnx: cuda options: %w", err)
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("onnx: enable cuda: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ONNXEmbedder{session: session, tokenizer: tok, dims: dims}, nil
}

func (e *ONNXEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	ids := e.tokenizer.encode(text, onnxMaxSeqLen)

	inputIDs := make([]int64, onnxMaxSeqLen)
	mask := make([]int64, onnxMaxSeqLen)
	typeIDs := make([]int64, onnxMaxSeqLen)
	for i, id := range ids {
		inputIDs[i] = id
		mask[i] = 1
	}

	shape := ort.NewShape(1, onnxMaxSeqLen)
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsT, maskT, typeT}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	return meanPool(out.GetData(), out.GetShape(), mask, e.dims)
}

func (e *ONNXEmbedder) Dims() int { return e.dims }

// Close releases the ONNX session.
func (e *ONNXEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

// meanPool averages hidden states over attended tokens. Outputs that are
// already pooled ([1, dims]) are passed through.
func meanPool(data []float32, shape ort.Shape, mask []int64, dims int) (Vector, error) {
	pooled := make([]float64, dims)
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, fmt.Errorf("onnx: output has %d values, want %d", len(data), dims)
		}
		for j := 0; j < dims; j++ {
			pooled[j] = float64(data[j])
		}
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != dims {
			return nil, fmt.Errorf("onnx: hidden size %d, want %d", hidden, dims)
		}
		var attended float64
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			off := i * hidden
			for j := 0; j < hidden; j++ {
				pooled[j] += float64(data[off+j])
			}
		}
		if attended > 0 {
			for j := range pooled {
				pooled[j] /= attended
			}
		}
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}
	return normalize64(pooled), nil
}

// wordPiece is a minimal BERT WordPiece tokenizer backed by tokenizer.json.
type wordPiece struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocab in %s", path)
	}
	wp := &wordPiece{vocab: doc.Model.Vocab, cls: 101, sep: 102, unk: 100}
	if id, ok := wp.vocab["[CLS]"]; ok {
		wp.cls = int64(id)
	}
	if id, ok := wp.vocab["[SEP]"]; ok {
		wp.sep = int64(id)
	}
	if id, ok := wp.vocab["[UNK]"]; ok {
		wp.unk = int64(id)
	}
	return wp, nil
}

// encode returns [CLS] tokens... [SEP], truncated to maxLen.
func (t *wordPiece) encode(text string, maxLen int) []int64 {
	ids := []int64{t.cls}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		ids = append(ids, t.pieces(word)...)
		if len(ids) >= maxLen-1 {
			ids = ids[:maxLen-1]
			break
		}
	}
	return append(ids, t.sep)
}

func (t *wordPiece) pieces(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{int64(id)}
	}
	var out []int64
	runes := []rune(word)
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, int64(id))
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []int64{t.unk}
		}
	}
	return out
}
