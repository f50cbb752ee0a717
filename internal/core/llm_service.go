package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"gwi.com/shopping-assistant/internal/store"
)

const (
	defaultModelName = "gemini-1.5-flash-latest"

	maxKeywordInputChars = 12000
	maxKeywords          = 20

	keywordSystemInstruction = "You extract shopping interests from conversations. " +
		"Return a JSON array of short lowercase keywords naming product categories (e.g. \"laptop\", \"headphones\") " +
		"or brands (e.g. \"apple\", \"samsung\") the user showed interest in. Repeat a keyword once per mention. " +
		"Return [] if there is none. Return only the JSON array."

	clickSystemInstruction = "You analyze a shopper's recent product clicks. " +
		"Return a JSON object {\"categories\": [...], \"brands\": [...], \"priceRanges\": [...]} with short lowercase values. " +
		"Categories are product types (e.g. \"laptop\"), brands are manufacturers, price ranges look like \"under $500\" or \"$500-$1000\". " +
		"Return only the JSON object."
)

// ErrLLMDisabled is returned when no API key was configured.
var ErrLLMDisabled = errors.New("llm: extraction disabled")

// ClickSignals is the structured view of a click window.
type ClickSignals struct {
	Categories  []string `json:"categories"`
	Brands      []string `json:"brands"`
	PriceRanges []string `json:"priceRanges"`
}

// SignalExtractor is the text-generation collaborator used for interest
// extraction. LLMService is the production implementation.
type SignalExtractor interface {
	ExtractKeywords(ctx context.Context, texts []string) ([]string, error)
	ExtractClickSignals(ctx context.Context, clicks []store.ClickLogEntry) (ClickSignals, error)
}

type LLMService struct {
	client    *genai.Client
	modelName string
	logger    zerolog.Logger
}

// NewLLMService connects to Gemini. With an empty apiKey the service is
// created disabled and every call returns ErrLLMDisabled.
func NewLLMService(ctx context.Context, apiKey, modelName string, logger zerolog.Logger) (*LLMService, error) {
	if modelName == "" {
		modelName = defaultModelName
	}
	s := &LLMService{modelName: modelName, logger: logger.With().Str("component", "llm").Logger()}
	if apiKey == "" {
		s.logger.Warn().Msg("GEMINI_API_KEY not set, interest extraction disabled")
		return s, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error().Err(err).Msg("error closing GenAI client")
		} else {
			s.logger.Info().Msg("GenAI client closed")
		}
	}
}

func (s *LLMService) ExtractKeywords(ctx context.Context, texts []string) ([]string, error) {
	if s.client == nil {
		return nil, ErrLLMDisabled
	}
	if len(texts) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Conversation messages:\n")
	for _, t := range texts {
		if prompt.Len()+len(t) > maxKeywordInputChars {
			break
		}
		prompt.WriteString("- ")
		prompt.WriteString(strings.ReplaceAll(t, "\n", " "))
		prompt.WriteString("\n")
	}

	out, err := s.generateJSON(ctx, keywordSystemInstruction, prompt.String())
	if err != nil {
		return nil, err
	}

	var keywords []string
	if err := json.Unmarshal([]byte(cleanJSON(out, '[', ']')), &keywords); err != nil {
		return nil, fmt.Errorf("failed to parse keywords %q: %w", out, err)
	}
	keywords = normalizeSignals(keywords)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords, nil
}

func (s *LLMService) ExtractClickSignals(ctx context.Context, clicks []store.ClickLogEntry) (ClickSignals, error) {
	if s.client == nil {
		return ClickSignals{}, ErrLLMDisabled
	}
	if len(clicks) == 0 {
		return ClickSignals{}, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Recent clicks (title | store | price):\n")
	for _, c := range clicks {
		fmt.Fprintf(&prompt, "- %s | %s | %s\n", c.Params["title"], c.Params["source"], c.Params["price"])
	}

	out, err := s.generateJSON(ctx, clickSystemInstruction, prompt.String())
	if err != nil {
		return ClickSignals{}, err
	}

	var signals ClickSignals
	if err := json.Unmarshal([]byte(cleanJSON(out, '{', '}')), &signals); err != nil {
		return ClickSignals{}, fmt.Errorf("failed to parse click signals %q: %w", out, err)
	}
	signals.Categories = normalizeSignals(signals.Categories)
	signals.Brands = normalizeSignals(signals.Brands)
	signals.PriceRanges = normalizeSignals(signals.PriceRanges)
	return signals, nil
}

func (s *LLMService) generateJSON(ctx context.Context, systemInstruction, prompt string) (string, error) {
	model := s.client.GenerativeModel(s.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	temp := float32(0.1)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini GenerateContent failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text parts")
	}
	return text.String(), nil
}

// cleanJSON strips markdown fences and keeps the outermost first..last span.
func cleanJSON(content string, first, last byte) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.IndexByte(content, first)
	end := strings.LastIndexByte(content, last)
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}
	return content
}

// normalizeSignals lower-cases and trims, dropping empties. Duplicates are
// kept since they carry frequency.
func normalizeSignals(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
