package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deidaraiorek/deifind/internal/config"
)

const (
	azureAnalyzePath = "/computervision/imageanalysis:analyze"
	azureAPIVersion  = "2024-02-01"
	azureFeatures    = "tags,caption"
)

type azureProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

type azureResponse struct {
	CaptionResult *struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"captionResult"`
	TagsResult *struct {
		Values []Label `json:"values"`
	} `json:"tagsResult"`
}

type azureError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAzure(cfg config.AnnotatorConfig) (Provider, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if endpoint == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: azure needs annotator.endpoint and annotator.api_key", ErrUnavailable)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &azureProvider{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		endpoint: endpoint,
		apiKey:   apiKey,
	}, nil
}

func (p *azureProvider) Name() string {
	return "azure"
}

func (p *azureProvider) Annotate(ctx context.Context, path string) (*Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	url := fmt.Sprintf("%s%s?api-version=%s&features=%s", p.endpoint, azureAnalyzePath, azureAPIVersion, azureFeatures)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call image analysis: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr azureError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("image analysis returned %d: %s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("image analysis returned %d", resp.StatusCode)
	}

	var parsed azureResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if parsed.CaptionResult == nil || parsed.TagsResult == nil {
		return nil, fmt.Errorf("%w: missing captionResult or tagsResult", ErrMalformedResponse)
	}

	ann := &Annotation{
		Caption: parsed.CaptionResult.Text,
		Labels:  parsed.TagsResult.Values,
	}
	if ann.Labels == nil {
		ann.Labels = []Label{}
	}
	if err := ann.validate(); err != nil {
		return nil, err
	}
	return ann, nil
}

func init() {
	Register("azure", newAzure)
}
