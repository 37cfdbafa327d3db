package researcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/resilience"
	"github.com/sells-group/contact-research/pkg/anthropic"
	"github.com/sells-group/contact-research/pkg/groq"
	"github.com/sells-group/contact-research/pkg/tavily"
)

const (
	maxPromptResults = 10
	maxContentChars  = 500
	extractMaxTokens = 800
	extractTemp      = 0.1
)

// Extraction is the parsed reply of the extraction model.
type Extraction struct {
	BusinessName string
	Contact      model.Contact
	// Confidence is the model's 1-10 rating; 0 when absent or unparseable.
	Confidence float64
	Raw        string

	Model        string
	InputTokens  int
	OutputTokens int
}

// Empty reports whether the model returned nothing usable.
func (e *Extraction) Empty() bool {
	return e == nil || strings.TrimSpace(e.Raw) == ""
}

// Extractor turns search results into contact details.
type Extractor interface {
	Extract(ctx context.Context, name string, results []tavily.Result) (*Extraction, error)
	// Ping sends a minimal request to verify credentials.
	Ping(ctx context.Context) error
	Name() string
}

// FormatResults renders up to ten results for the extraction prompt.
func FormatResults(results []tavily.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i == maxPromptResults {
			break
		}
		title := orDefault(r.Title, "No title")
		url := orDefault(r.URL, "No URL")
		content := orDefault(r.Content, "No content")
		if runes := []rune(content); len(runes) > maxContentChars {
			content = string(runes[:maxContentChars])
		}
		fmt.Fprintf(&b, "RESULT %d:\nTitle: %s\nURL: %s\nContent: %s...\n\n", i+1, title, url, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildPrompt returns the extraction prompt for name.
func BuildPrompt(name string, results []tavily.Result) string {
	return fmt.Sprintf(`Analyze the following web search results for the business %q and extract contact information.

SEARCH RESULTS:
%s

Please extract and format the following information:

BUSINESS_NAME: %s
PHONE: [extract phone number if found, or "Not found"]
EMAIL: [extract email address if found, or "Not found"]
WEBSITE: [extract official website URL if found, or "Not found"]
ADDRESS: [extract business address if found, or "Not found"]
DESCRIPTION: [brief description of business based on search results, or "No description available"]
CONFIDENCE: [rate 1-10 how confident you are this is the correct business]

Rules:
1. Only extract information that is clearly present in the search results
2. Don't make up or assume any contact details
3. Prefer official websites over directory listings
4. If multiple phone numbers found, choose the main business number
5. If no specific info found, write "Not found" for that field

Format your response exactly as shown above with the field names.`, name, FormatResults(results), name)
}

// ParseExtraction reads the FIELD: value lines of a model reply.
// "Not found" and placeholder descriptions become empty strings.
func ParseExtraction(text string) *Extraction {
	ext := &Extraction{Raw: text}
	for _, line := range strings.Split(text, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.Trim(strings.TrimSpace(key), "*# "))
		val = fieldValue(val)
		switch key {
		case "BUSINESS_NAME":
			ext.BusinessName = val
		case "PHONE":
			ext.Contact.Phone = val
		case "EMAIL":
			ext.Contact.Email = val
		case "WEBSITE":
			ext.Contact.Website = val
		case "ADDRESS":
			ext.Contact.Address = val
		case "DESCRIPTION":
			ext.Contact.Description = val
		case "CONFIDENCE":
			ext.Confidence = parseConfidence(val)
		}
	}
	return ext
}

func fieldValue(v string) string {
	v = strings.TrimSpace(strings.Trim(strings.TrimSpace(v), "*[]\""))
	switch strings.ToLower(v) {
	case "not found", "n/a", "no description available":
		return ""
	}
	return v
}

func parseConfidence(v string) float64 {
	v, _, _ = strings.Cut(v, "/")
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || f < 0 {
		return 0
	}
	if f > 10 {
		return 10
	}
	return f
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// GroqExtractor extracts with a Groq-hosted Llama model.
type GroqExtractor struct {
	client groq.Client
	guard  *resilience.Guard
}

// NewGroqExtractor wraps client with guard.
func NewGroqExtractor(client groq.Client, guard *resilience.Guard) *GroqExtractor {
	return &GroqExtractor{client: client, guard: guard}
}

// Name returns the provider name.
func (g *GroqExtractor) Name() string { return "groq" }

// Extract implements Extractor.
func (g *GroqExtractor) Extract(ctx context.Context, name string, results []tavily.Result) (*Extraction, error) {
	resp, err := resilience.Call(ctx, g.guard, "extract", func(ctx context.Context) (*groq.CompletionResponse, error) {
		return g.client.Complete(ctx, groq.CompletionRequest{
			Prompt:      BuildPrompt(name, results),
			Temperature: extractTemp,
		})
	})
	if err != nil {
		return nil, err
	}
	ext := ParseExtraction(resp.Content)
	ext.Model = resp.Model
	ext.InputTokens = resp.InputTokens
	ext.OutputTokens = resp.OutputTokens
	return ext, nil
}

// Ping implements Extractor.
func (g *GroqExtractor) Ping(ctx context.Context) error {
	resp, err := g.client.Complete(ctx, groq.CompletionRequest{Prompt: "Say 'Groq working'", MaxTokens: 10})
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return eris.New("groq: empty ping response")
	}
	return nil
}

// AnthropicExtractor extracts with a Claude model.
type AnthropicExtractor struct {
	client    anthropic.Client
	guard     *resilience.Guard
	model     string
	maxTokens int64
}

// NewAnthropicExtractor wraps client with guard.
func NewAnthropicExtractor(client anthropic.Client, guard *resilience.Guard, model string, maxTokens int64) *AnthropicExtractor {
	if maxTokens <= 0 {
		maxTokens = extractMaxTokens
	}
	return &AnthropicExtractor{client: client, guard: guard, model: model, maxTokens: maxTokens}
}

// Name returns the provider name.
func (a *AnthropicExtractor) Name() string { return "anthropic" }

// Extract implements Extractor.
func (a *AnthropicExtractor) Extract(ctx context.Context, name string, results []tavily.Result) (*Extraction, error) {
	temp := extractTemp
	resp, err := resilience.Call(ctx, a.guard, "extract", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       a.model,
			MaxTokens:   a.maxTokens,
			Messages:    []anthropic.Message{{Role: "user", Content: BuildPrompt(name, results)}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, err
	}
	ext := ParseExtraction(resp.Text())
	ext.Model = resp.Model
	if ext.Model == "" {
		ext.Model = a.model
	}
	ext.InputTokens = int(resp.Usage.InputTokens)
	ext.OutputTokens = int(resp.Usage.OutputTokens)
	return ext, nil
}

// Ping implements Extractor.
func (a *AnthropicExtractor) Ping(ctx context.Context) error {
	_, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 10,
		Messages:  []anthropic.Message{{Role: "user", Content: "Say 'Claude working'"}},
	})
	return err
}
