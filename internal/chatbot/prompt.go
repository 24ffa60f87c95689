package chatbot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/storage"
)

// SentinelMaintenance is returned verbatim when a message is classified as a
// new maintenance issue. Callers watch for it and open an intake flow instead
// of showing the reply to the tenant.
const SentinelMaintenance = "MAINTENANCE_REQUEST_TRIGGERED"

const (
	maxContextChars = 6000
	chunkSeparator  = "\n\n---\n\n"

	descriptionPreview = 30
)

const contractSystemPrompt = `You are a professional Singapore tenancy assistant.
Answer strictly from the contract context provided. Do not assume anything the
context does not state; if the context does not address the question, say so
plainly. Cite the relevant clause when one applies.`

const generalSystemPrompt = `You are a friendly tenancy-management assistant.
Keep replies conversational and concise.`

const uploadPrompt = "I don't have your tenancy contract on file yet. Please upload your contract PDF and I'll be able to answer questions about it."

const (
	apologyModel     = "Sorry, I ran into a problem while generating a reply. Please try again in a moment."
	apologyLedger    = "Sorry, I couldn't look up your maintenance records right now. Please try again shortly."
	apologyRetrieval = "Sorry, I couldn't search your contract right now. Please try again shortly."
)

func contractUserPrompt(context, question string) string {
	return fmt.Sprintf(`Context:
%s

Question:
%s

Answer in three parts:
1. Short answer
2. Clause reference
3. Source snippet`, context, question)
}

// buildContext joins retrieved chunks best-match first, stopping before the
// context exceeds maxContextChars. At least one chunk is always included.
func buildContext(chunks []knowledge.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 && b.Len()+len(chunkSeparator)+len(c.Text) > maxContextChars {
			break
		}
		if i > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// formatRequests renders the tenant's maintenance history newest first.
func formatRequests(reqs []storage.MaintenanceRequest) string {
	if len(reqs) == 0 {
		return "You have no maintenance requests on record."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d maintenance request(s):\n", len(reqs))
	for _, r := range reqs {
		desc := r.Description
		if len(desc) > descriptionPreview {
			cut := descriptionPreview
			// Keep the cut on a rune boundary.
			for cut > 0 && !utf8.RuneStart(desc[cut]) {
				cut--
			}
			desc = desc[:cut] + "..."
		}
		fmt.Fprintf(&b, "- REQ-%d (%s: %s) is %s, filed %s\n",
			r.RequestID, r.Location, desc, r.Status, r.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}
