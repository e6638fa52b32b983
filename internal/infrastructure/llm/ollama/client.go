package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New builds a client for the Ollama generate API. The HTTP timeout is a
// backstop; per-attempt deadlines come from the caller's context.
func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

type classificationResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classify asks the model for one category from the closed set. An answer
// outside the set falls back to the uploader's hint when one was given.
func (c *Classifier) Classify(ctx context.Context, text string, hints domain.ClassificationHints) (domain.DocumentCategory, error) {
	respText, err := c.client.generateJSON(ctx, buildClassificationPrompt(text, hints))
	if err != nil {
		return "", wrapTemporaryIfNeeded("classify document", err)
	}

	var result classificationResult
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return "", domain.WrapError(domain.ErrClassification, "parse classification json", err)
	}
	category := domain.DocumentCategory(strings.ToUpper(strings.TrimSpace(result.Category)))
	if category.Valid() {
		return category, nil
	}
	if hints.CategoryHint.Valid() {
		return hints.CategoryHint, nil
	}
	return "", domain.WrapError(domain.ErrClassification, "classify document", fmt.Errorf("model answered %q", result.Category))
}

type DataExtractor struct {
	client *Client
}

func NewDataExtractor(client *Client) *DataExtractor {
	return &DataExtractor{client: client}
}

// ExtractData returns the category's field mapping as the model produced it.
// Callers size text to one prompt window. Shape checks happen during
// aggregation.
func (e *DataExtractor) ExtractData(ctx context.Context, text string, category domain.DocumentCategory) (domain.ExtractedData, error) {
	respText, err := e.client.generateJSON(ctx, buildExtractionPrompt(text, category))
	if err != nil {
		return nil, wrapTemporaryIfNeeded("extract data", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &data); err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "parse extraction json", err)
	}
	if data == nil {
		return nil, domain.WrapError(domain.ErrExtraction, "extract data", fmt.Errorf("model returned no object"))
	}
	return domain.ExtractedData(data), nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
