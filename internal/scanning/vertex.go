package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex implements the Scanner interface using Gemini models served by Vertex AI.
// Credentials come from the environment (Application Default Credentials).
type Vertex struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewVertex creates a Vertex AI scanner for the given project and region
func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   vertexReceiptSchema(),
		Temperature:      genai.Ptr[float32](0.1),
	}

	return &Vertex{
		client:  client,
		model:   model,
		timeout: 60 * time.Second,
	}, nil
}

func vertexSchema(fields []fieldSpec) map[string]*genai.Schema {
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

func vertexReceiptSchema() *genai.Schema {
	props := vertexSchema(receiptFields)
	props["items"] = &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: vertexSchema(lineItemFields),
		},
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}

// ScanReceipt analyzes a receipt and extracts its fields
func (v *Vertex) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ExtractedFields, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	img, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	resp, err := v.model.GenerateContent(ctx,
		genai.Text(receiptScanPrompt),
		genai.ImageData(strings.TrimPrefix(img.MIMEType, "image/"), img.Data),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from vertex")
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

// Close closes the Vertex AI client
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
