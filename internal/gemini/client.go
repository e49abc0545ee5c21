// Package gemini is the client for the external content-understanding
// collaborator: the Google Gemini generative API. It owns file upload with a
// content-hash cache, streaming generation with a bounded continuation loop,
// and the sections/content/metadata request surface consumed by the
// conversion pipeline.
package gemini

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/JaapHaitsma/pdf2epub/internal/uploadcache"
)

const (
	// DefaultBaseURL is the Google generative language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is used when the config names none.
	DefaultModel = "gemini-2.5-pro"
)

const systemPrompt = "You are a helpful editor. Clean and structure book-like text into " +
	"chapters and sections. Preserve lists, code blocks, and headings. Output MUST be valid " +
	"HTML5 fragment(s), using <h1> for title, <h2>/<h3> for sections, <p> for paragraphs, " +
	"<ul>/<ol>/<li> for lists, and <pre><code> for code."

// Config holds configuration for the Gemini client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// Recovery bounds
	MaxRetries       int           // non-streaming fallback attempts (default: 3)
	RetryDelay       time.Duration // base backoff delay (default: 1s)
	MaxContinuations int           // MAX_TOKENS continuation requests (default: 3)

	// Uploads is the content-hash -> remote handle store. Defaults to an
	// in-memory store; callers wanting persistence inject a FileStore.
	Uploads uploadcache.Store

	// DebugDir, when set, receives raw pre-repair responses named after
	// DebugStem for post-mortem inspection.
	DebugDir  string
	DebugStem string

	Logger *slog.Logger
}

// Client talks to the Gemini API.
type Client struct {
	apiKey           string
	baseURL          string
	model            string
	hc               *http.Client
	maxRetries       int
	retryDelay       time.Duration
	maxContinuations int
	uploads          uploadcache.Store
	debugDir         string
	debugStem        string
	log              *slog.Logger
}

// NewClient creates a Gemini client, filling config defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxContinuations == 0 {
		cfg.MaxContinuations = 3
	}
	if cfg.Uploads == nil {
		cfg.Uploads = uploadcache.NewMemStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		apiKey:           cfg.APIKey,
		baseURL:          cfg.BaseURL,
		model:            cfg.Model,
		hc:               &http.Client{Timeout: cfg.Timeout},
		maxRetries:       cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
		maxContinuations: cfg.MaxContinuations,
		uploads:          cfg.Uploads,
		debugDir:         cfg.DebugDir,
		debugStem:        cfg.DebugStem,
		log:              cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Gemini API wire types.

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

// text concatenates the text parts of the first candidate.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range r.Candidates[0].Content.Parts {
		out += p.Text
	}
	return out
}

func (r *generateResponse) finishReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}
