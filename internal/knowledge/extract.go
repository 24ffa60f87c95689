package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/avelar/leasebot/internal/openai"
	"github.com/avelar/leasebot/internal/storage"
)

const extractionTimeout = 20 * time.Second

// summaryChunkLimit bounds how much of the document the extraction call
// sees. The lead-facts of a tenancy agreement (parties, rent, deposit,
// term) appear in the opening pages.
const summaryChunkLimit = 10

const extractionSystemPrompt = `You are a data extraction engine for tenancy agreements. Analyze the contract excerpts and output ONLY a single valid JSON object with exactly these keys:
- "monthly_rent": number or null — the monthly rental amount
- "security_deposit": number or null — the security deposit amount
- "lease_start_date": string or null — the lease start date (YYYY-MM-DD)
- "lease_end_date": string or null — the lease end date (YYYY-MM-DD)
- "tenant_name": string or null — the full name of the tenant
- "landlord_name": string or null — the full name of the landlord

Use null for any field the excerpts do not state. Do not include any other text, prose, or markdown.`

// ExtractionClient is the structured-output chat interface the summary
// extractor needs. Implemented by openai.Client.
type ExtractionClient interface {
	ChatJSON(ctx context.Context, model string, messages []openai.Message) (string, error)
}

// extractSummary asks the extraction model for structured contract fields
// over the first few chunks. On any failure (timeout, malformed JSON, API
// error) it returns a zero-value summary — extraction failure must never
// fail the build; the index is still usable for Q&A.
func extractSummary(ctx context.Context, client ExtractionClient, model string, chunks []string) storage.ContractSummary {
	if len(chunks) == 0 {
		return storage.ContractSummary{}
	}
	if len(chunks) > summaryChunkLimit {
		chunks = chunks[:summaryChunkLimit]
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	messages := []openai.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: strings.Join(chunks, "\n\n---\n\n")},
	}

	raw, err := client.ChatJSON(ctx, model, messages)
	if err != nil {
		slog.Warn("contract summary extraction failed", "error", err)
		return storage.ContractSummary{}
	}

	var sum storage.ContractSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		slog.Warn("failed to unmarshal contract summary", "error", err, "response", raw)
		return storage.ContractSummary{}
	}
	return sum
}
