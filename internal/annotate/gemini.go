package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/deidaraiorek/deifind/internal/config"
)

const geminiPrompt = `Describe this image for a search index.
Reply with JSON only, in this shape:
{"caption": "<one short sentence>", "labels": [{"name": "<single lowercase word>", "confidence": <0..1>}]}
Give up to 15 labels for the objects, scenery and activities in the image.`

type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGemini(cfg config.AnnotatorConfig) (Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini needs annotator.api_key", ErrUnavailable)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: model}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Annotate(ctx context.Context, path string) (*Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType(path, data)}},
			{Text: geminiPrompt},
		},
	}}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call gemini: %w", err)
	}

	return parseAnnotation(resp.Text())
}

// parseAnnotation accepts the JSON reply, tolerating a fenced code block
// around it.
func parseAnnotation(text string) (*Annotation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var ann Annotation
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ann); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err := ann.validate(); err != nil {
		return nil, err
	}
	return &ann, nil
}

func mimeType(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return http.DetectContentType(data)
}

func init() {
	Register("gemini", newGemini)
}
