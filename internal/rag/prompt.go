package rag

import (
	"strings"

	"github.com/xxxsen/pdfqa/internal/vectorstore"
)

// NoDocumentAnswer is returned by Answer while nothing has been ingested.
const NoDocumentAnswer = "Please upload a document first."

const systemPrompt = "You are an assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer " +
	"the question. If you don't know the answer, say that you " +
	"don't know. Use three sentences maximum and keep the " +
	"answer concise."

// BuildPrompt renders the grounding prompt. Retrieved texts are inserted
// verbatim, nearest first.
func BuildPrompt(question string, results []vectorstore.Result) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")
	sb.WriteString(strings.Join(texts, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\nAnswer:")
	return sb.String()
}
