package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

// SystemPrompt instructs the generation backend
const SystemPrompt = "You are a helpful AI assistant for this website. " +
	"Answer questions using only the retrieved context provided. " +
	"Keep responses focused and minimal: include only information directly relevant to what was asked, " +
	"summarize lists briefly instead of listing every item, and prefer 2-3 sentences over paragraphs. " +
	"If the question is unrelated to the website content, say: " +
	"\"I can only help with questions about this website.\" " +
	"End with a brief Sources section using page titles and URLs from the context, formatted as: Title (URL). " +
	"Never use generic labels like 'Source 1'. " +
	"Do not repeat the question or mention internal workings."

const (
	noInformationMessage = AutomaticReplyPrefix + " I don't have any information about this topic in the knowledge base yet. " +
		"Please try asking about something else related to the website content."
	unavailableMessage = AutomaticReplyPrefix + " The AI assistant is temporarily unavailable. " +
		"Here is what I found on the website that may help:"

	maxFallbackSnippets = 3
	snippetChars        = 240
)

// BuildContext renders retrieved chunks as the context block, stopping before
// maxChars is exceeded. The first chunk is always included, truncated if needed.
func BuildContext(results []types.RetrievedChunk, maxChars int) string {
	var b strings.Builder
	b.WriteString("CONTEXT INFORMATION:\n\n")

	for i, r := range results {
		block := contextBlock(i+1, r)
		if maxChars > 0 && b.Len()+len(block) > maxChars {
			if i == 0 {
				b.WriteString(truncate(block, maxChars-b.Len()))
			}
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

func contextBlock(n int, r types.RetrievedChunk) string {
	label := r.Chunk.Breadcrumb()
	if label == "" {
		label = r.Chunk.SourceURL
	}
	return fmt.Sprintf("[Source %d] %s\nURL: %s\nRelevance: %.2f\nContent: %s\n\n",
		n, label, r.Chunk.SourceURL, r.RelevanceScore, r.Chunk.Text)
}

// buildPrompt frames the context and the question for the backend
func buildPrompt(context, question string) string {
	return "Here is the context retrieved from the website's documents:\n\n" +
		"--- CONTEXT ---\n" + context + "--- END CONTEXT ---\n\n" +
		"Based on the context above, please answer the following question:\n" +
		"Question: " + question
}

// citationsFor lists each source URL once, in rank order
func citationsFor(results []types.RetrievedChunk) []types.Citation {
	seen := make(map[string]bool, len(results))
	cits := make([]types.Citation, 0, len(results))
	for _, r := range results {
		if seen[r.Chunk.SourceURL] {
			continue
		}
		seen[r.Chunk.SourceURL] = true
		cits = append(cits, types.Citation{Title: r.Chunk.Title, URL: r.Chunk.SourceURL})
	}
	return cits
}

// ensureSources appends a Sources section when the model left it out
func ensureSources(answer string, cits []types.Citation) string {
	answer = strings.TrimSpace(answer)
	if strings.Contains(strings.ToLower(answer), "sources:") || len(cits) == 0 {
		return answer
	}
	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\nSources:")
	for _, c := range cits {
		b.WriteString("\n- ")
		b.WriteString(c.String())
	}
	return b.String()
}

// fallbackMessage echoes the top snippets with their URLs
func fallbackMessage(results []types.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString(unavailableMessage)
	for i, r := range results {
		if i == maxFallbackSnippets {
			break
		}
		fmt.Fprintf(&b, "\n\n%d. %s\n   %s", i+1, truncate(r.Chunk.Text, snippetChars), r.Chunk.SourceURL)
	}
	return b.String()
}

// truncate shortens s to at most n bytes on a word boundary, adding "..."
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return "..."
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if sp := strings.LastIndexByte(s[:cut], ' '); sp > cut/2 {
		cut = sp
	}
	return strings.TrimSpace(s[:cut]) + "..."
}
