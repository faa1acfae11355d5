package embedder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider implements Embedder on the OpenAI embeddings endpoint.
// Any OpenAI-compatible server works when baseURL points at it.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI embedder. Retries are left to the caller.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  NormalizeOpenAIModel(model),
	}, nil
}

// NormalizeOpenAIModel strips an "openai/" prefix and applies the default.
func NormalizeOpenAIModel(model string) string {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return DefaultOpenAIModel
	}
	if after, ok := strings.CutPrefix(trimmed, "openai/"); ok {
		return after
	}
	return trimmed
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = o.model
	}
	model = NormalizeOpenAIModel(model)
	return inBatches(texts, func(batch []string) ([][]float32, error) {
		return o.callAPI(ctx, batch, model)
	})
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(a, b int) bool { return data[a].Index < data[b].Index })
	out := make([][]float32, len(data))
	for i, entry := range data {
		out[i] = toFloat32(entry.Embedding)
	}
	return out, nil
}

// Dimension returns the width of the default model's vectors
func (o *OpenAIProvider) Dimension() int {
	switch o.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return OpenAIDimension
	}
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}
