// Package summarization is a node module that turns a PDF or text document
// into a summary answering a user query. Each chunk of the document is
// summarised first, then the chunk summaries are condensed into one answer.
package summarization

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	dagflow "dagflow"
	"dagflow/nodes"
)

const (
	// DefaultContentType describes the document in prompts.
	DefaultContentType = "an academic paper"
	// DefaultMaxChunkSize is the chunk limit in characters.
	DefaultMaxChunkSize = 1500
	// DefaultUserQuery is asked when the caller gives none.
	DefaultUserQuery = "Can you ELI5 the paper?"
)

// DefaultCompletionPolicy reruns a failed completion node twice, one second
// apart.
var DefaultCompletionPolicy = nodes.Attributes{RetryAttempts: 2, RetryDelay: time.Second}

// ModuleOption configures Module.
type ModuleOption func(*moduleOptions)

type moduleOptions struct {
	completion nodes.Attributes
}

// WithCompletionPolicy sets the retry and timeout policy of the nodes that
// call the summarizer.
func WithCompletionPolicy(attrs nodes.Attributes) ModuleOption {
	return func(o *moduleOptions) { o.completion = attrs }
}

// Module returns the summarization nodes. s answers the completion calls;
// nil uses the offline mock. raw_text is a variant group selected by the
// file_type configuration key ("pdf" or "txt").
func Module(s Summarizer, opts ...ModuleOption) nodes.Module {
	if s == nil {
		s = NewOpenAISummarizer(nil, OpenAIOptions{})
	}
	o := moduleOptions{completion: DefaultCompletionPolicy}
	for _, opt := range opts {
		opt(&o)
	}
	return nodes.NewModule("summarization",
		nodes.Func1("raw_text__pdf", "pdf_source", pdfText,
			nodes.When(dagflow.When("file_type", "pdf")),
			nodes.Doc("Extracts the plain text of every page of a PDF.")),
		nodes.Func1("raw_text__txt", "pdf_source", plainText,
			nodes.When(dagflow.When("file_type", "txt")),
			nodes.Doc("Reads the source as UTF-8 text.")),
		nodes.Func2("chunked_text", "raw_text", "max_chunk_size", chunkText,
			nodes.Default("max_chunk_size", DefaultMaxChunkSize),
			nodes.Doc("Splits text on paragraph and word boundaries into bounded chunks.")),
		nodes.Func1("summarize_chunk_of_text_prompt", "content_type", chunkPrompt,
			nodes.Default("content_type", DefaultContentType)),
		nodes.Func1("summarize_text_from_summaries_prompt", "content_type", summariesPrompt,
			nodes.Default("content_type", DefaultContentType)),
		nodes.WithAttributes(nodes.Func3("summarized_chunks", "chunked_text", "summarize_chunk_of_text_prompt", "openai_gpt_model",
			func(ctx context.Context, chunks []string, prompt, model string) (string, error) {
				return summarizeChunks(ctx, s, chunks, prompt, model)
			},
			nodes.Default("openai_gpt_model", DefaultModel),
			nodes.Doc("Summarises each chunk and joins the partial summaries.")), o.completion),
		nodes.MustReflect("prompt_and_text_content", promptAndText,
			[]string{"summarized_chunks", "user_query", "summarize_text_from_summaries_prompt"},
			nodes.Default("user_query", DefaultUserQuery)),
		nodes.WithAttributes(nodes.Func2("summarized_text", "prompt_and_text_content", "openai_gpt_model",
			func(ctx context.Context, prompt, model string) (string, error) {
				return s.Complete(ctx, model, prompt)
			},
			nodes.Default("openai_gpt_model", DefaultModel),
			nodes.Doc("Produces the final summary.")), o.completion),
	)
}

func pdfText(_ context.Context, src io.Reader) (string, error) {
	if src == nil {
		return "", fmt.Errorf("summarization: no pdf source")
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("summarization: read pdf: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("summarization: open pdf: %w", err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("summarization: extract text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, text); err != nil {
		return "", fmt.Errorf("summarization: extract text: %w", err)
	}
	return buf.String(), nil
}

func plainText(_ context.Context, src io.Reader) (string, error) {
	if src == nil {
		return "", fmt.Errorf("summarization: no text source")
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("summarization: read text: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("summarization: source is not valid UTF-8")
	}
	return string(raw), nil
}

func chunkPrompt(_ context.Context, contentType string) (string, error) {
	return fmt.Sprintf("Summarize this text from %s. Extract any key points with reasoning.\n\nContent:", contentType), nil
}

func summariesPrompt(_ context.Context, contentType string) (string, error) {
	return fmt.Sprintf(`Write a summary from this collection of key points extracted from %s.
The summary should highlight the core argument, conclusions and evidence, and answer the user's query.
User query: {query}
The summary should be structured in bulleted lists following the headings Core Argument, Evidence, and Conclusions.
Key points:
{results}
Summary:
`, contentType), nil
}

func summarizeChunks(ctx context.Context, s Summarizer, chunks []string, prompt, model string) (string, error) {
	var out strings.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		summary, err := s.Complete(ctx, model, prompt+"\n"+chunk)
		if err != nil {
			return "", fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		if i > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(summary)
	}
	return out.String(), nil
}

func promptAndText(summaries, query, template string) string {
	return strings.NewReplacer("{query}", query, "{results}", summaries).Replace(template)
}
