package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-embeddings"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize caps the number of texts sent in one API request
	MaxBatchSize = 100

	requestTimeout = 30 * time.Second
)

// JinaProvider implements Embedder using the Jina AI HTTP API
type JinaProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewJinaProvider creates a new Jina AI embedder. An empty baseURL uses the public endpoint.
func NewJinaProvider(apiKey, baseURL, model string) (*JinaProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultJinaBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultJinaModel
	}
	return &JinaProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (j *JinaProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = j.model
	}
	return inBatches(texts, func(batch []string) ([][]float32, error) {
		return j.callAPI(ctx, batch, model)
	})
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"input": texts,
		"model": model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: api call: %v", ErrProviderFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: api error %d: %s", ErrProviderFailed, resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(apiResp.Data), len(texts))
	}

	sort.Slice(apiResp.Data, func(a, b int) bool { return apiResp.Data[a].Index < apiResp.Data[b].Index })
	out := make([][]float32, len(apiResp.Data))
	for i, data := range apiResp.Data {
		out[i] = toFloat32(data.Embedding)
	}
	return out, nil
}

func (j *JinaProvider) Dimension() int {
	return JinaDimension
}

func (j *JinaProvider) Provider() string {
	return ProviderJina
}

func (j *JinaProvider) Model() string {
	return j.model
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline with signed feature hashing over word
// tokens and character trigrams. Texts sharing vocabulary land close together,
// which is enough for keyword-flavoured similarity without a model file.
type LocalProvider struct {
	model string

	mu     sync.Mutex
	loaded map[string]uint64 // model -> hash seed
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(model string) *LocalProvider {
	if strings.TrimSpace(model) == "" {
		model = DefaultLocalModel
	}
	return &LocalProvider{model: model, loaded: make(map[string]uint64)}
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = l.model
	}
	seed := l.seed(model)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashEmbed(text, seed)
	}
	return out, nil
}

// Ready reports whether model has been prepared
func (l *LocalProvider) Ready(model string) bool {
	if model == "" {
		model = l.model
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[model]
	return ok
}

// Prepare derives the per-model hash seed. Distinct model names produce
// unrelated vector spaces, so switching models forces a re-embed.
func (l *LocalProvider) Prepare(ctx context.Context, model string, progress func(float64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if model == "" {
		model = l.model
	}
	if progress != nil {
		progress(0)
	}
	l.seed(model)
	if progress != nil {
		progress(1)
	}
	return nil
}

func (l *LocalProvider) seed(model string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.loaded[model]; ok {
		return s
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(model))
	s := h.Sum64()
	l.loaded[model] = s
	return s
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

func hashEmbed(text string, seed uint64) []float32 {
	vec := make([]float32, LocalDimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		addFeature(vec, w, seed, 1.0)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			addFeature(vec, string(runes[i:i+3]), seed, 0.5)
		}
	}
	return NormalizeVector(vec)
}

func addFeature(vec []float32, feature string, seed uint64, weight float32) {
	h := fnv.New64a()
	var b [8]byte
	for i := range b {
		b[i] = byte(seed >> (8 * i))
	}
	_, _ = h.Write(b[:])
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// inBatches splits texts into MaxBatchSize requests and concatenates the results
func inBatches(texts []string, call func([]string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := call(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
