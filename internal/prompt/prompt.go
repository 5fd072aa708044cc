// Package prompt holds the templates sent to the language model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/policyagent/internal/domain"
)

// MaxContextLength caps the retrieved context embedded in a grounded prompt
const MaxContextLength = 3000

// Canned answers
const (
	NoInformationAnswer = "I don't have information about that in the available company policy documents. Could you rephrase your question or ask about something else?"
	ClarificationAnswer = "I'm not quite sure what you're asking. Could you please provide more details or rephrase your question?"
	ApologyAnswer       = "I apologize, but I encountered an error processing your request. Please try again."
)

// SystemAgent frames direct answers
const SystemAgent = `You are an assistant helping employees with company policy questions.

You can:
1. Answer general questions directly from your own knowledge
2. Answer questions about specific policies from company documents

Guidelines:
- Be professional, friendly and concise
- Cite sources when you use document information
- Say so honestly when you don't know something
- Ask a clarifying question when the request is unclear

The conversation so far follows.`

// SystemRAG frames grounded answers
const SystemRAG = `You answer questions using company policy documents.

RULES:
1. Answer ONLY from the provided context
2. If the context does not contain the answer, say "I don't have information about that in the available documents"
3. Cite the source document(s) you used
4. Be specific and accurate
5. Never invent information`

const intentTemplate = `Classify the user's query to decide how to answer it.

Categories:

GENERAL: general knowledge that can be answered directly
  Examples: "What is AI?", "How can I be more productive?", "What's the capital of France?"

POLICY: company policies, procedures or benefits that require searching documents
  Examples: "What is the leave policy?", "How do I request PTO?", "What are the benefits?"

CLARIFICATION: unclear or ambiguous, needs more detail
  Examples: "What about that?", "Tell me more", "And?"

%s
Respond with ONLY the category name: GENERAL, POLICY, or CLARIFICATION.

Query: %s
Category:`

const ragTemplate = `Answer the question using the company policy documents below.

CONTEXT DOCUMENTS:
%s

QUESTION: %s

INSTRUCTIONS:
1. Use ONLY the information in the context above
2. Be specific and say which document(s) you used
3. If the context is not enough, say so
4. Format the answer clearly

Answer:`

type example struct {
	query string
	label domain.QueryType
}

var fewShot = []example{
	{query: "What is the company's vacation policy?", label: domain.QueryTypePolicy},
	{query: "How does photosynthesis work?", label: domain.QueryTypeGeneral},
	{query: "Tell me more about that", label: domain.QueryTypeClarification},
}

// Intent returns the classification prompt for query
func Intent(query string) string {
	var b strings.Builder
	b.WriteString("Labelled examples:\n")
	for _, ex := range fewShot {
		fmt.Fprintf(&b, "Query: %q -> %s\n", ex.query, ex.label)
	}
	return fmt.Sprintf(intentTemplate, b.String(), query)
}

// RAG returns the grounded prompt for query over chunks
func RAG(query string, chunks []domain.RetrievedChunk) string {
	return fmt.Sprintf(ragTemplate, FormatContext(chunks, MaxContextLength), query)
}

// FormatContext renders chunks as numbered documents, truncated to
// maxLength bytes.
func FormatContext(chunks []domain.RetrievedChunk, maxLength int) string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		header := fmt.Sprintf("[Document %d: %s", i+1, c.Source())
		if page, ok := c.Page(); ok {
			header += fmt.Sprintf(" (Page %d)", page)
		}
		parts = append(parts, header+"]\n"+c.Content+"\n")
	}

	context := strings.Join(parts, "\n")
	if maxLength > 0 && len(context) > maxLength {
		context = truncateUTF8(context, maxLength) + "\n...[Context truncated]"
	}
	return context
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
