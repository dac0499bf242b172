package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiReceiptSchema()

	return &Gemini{
		client:  client,
		model:   model,
		timeout: 60 * time.Second,
	}, nil
}

func geminiSchema(fields []fieldSpec) map[string]*genai.Schema {
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		s := &genai.Schema{Description: f.Description}
		switch f.Kind {
		case kindNumber:
			s.Type = genai.TypeNumber
		case kindBool:
			s.Type = genai.TypeBoolean
		default:
			s.Type = genai.TypeString
		}
		props[f.Name] = s
	}
	return props
}

func geminiReceiptSchema() *genai.Schema {
	props := geminiSchema(receiptFields)
	props["items"] = &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: geminiSchema(lineItemFields),
		},
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}

// ScanReceipt analyzes a receipt and extracts its fields
func (g *Gemini) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ExtractedFields, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	img, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects the format suffix ("png"), not the MIME type
	resp, err := g.model.GenerateContent(ctx,
		genai.Text(receiptScanPrompt),
		genai.ImageData(strings.TrimPrefix(img.MIMEType, "image/"), img.Data),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	fields, err := parseReceiptJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return fields, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
