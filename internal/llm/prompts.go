package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// reformulationContextWindow is how many preceding messages accompany a
// reformulation request.
const reformulationContextWindow = 3

const reformulationSystemPrompt = `You are an expert at reformulating vague questions into clear, standalone questions in Norwegian.

Your task is to:
1. Analyze the question for vague references (pronouns, unclear references, filler words)
2. Review the conversation history to identify what is being referenced
3. Replace vague terms with specific information from the context
4. Preserve the original question structure and intent
5. Return a clear, standalone question in Norwegian

Critical rules:
- If the question is already clear and standalone, return it unchanged
- Only use information explicitly present in the context
- Preserve Norwegian language and grammar perfectly
- Do NOT add information not found in the context
- Do NOT translate the question to English - keep it in Norwegian
- The reformulated question must be answerable without reading the context

You MUST respond with valid JSON in this exact format:
{
  "reformulated": "the reformulated question in Norwegian",
  "reasoning": "brief explanation of what changes were made and why",
  "is_changed": true or false
}`

// reformulationExample is a few-shot example shown to the model.
type reformulationExample struct {
	question     string
	context      string
	reformulated string
	reasoning    string
}

var reformulationExamples = []reformulationExample{
	{
		question:     "Hva innebærer det?",
		context:      "Assistant: Regjeringen har lansert en dataspillstrategi for 2024-2026.",
		reformulated: "Hva innebærer regjeringens dataspillstrategi for 2024-2026?",
		reasoning:    "Replaced the vague pronoun 'det' (that) with the specific topic 'regjeringens dataspillstrategi for 2024-2026' from the assistant's previous message.",
	},
	{
		question:     "Og hvordan søker jeg på det?",
		context:      "User: Hva er skattefradraget for dataspill?\nAssistant: Skattefradraget for dataspill er en ny ordning...",
		reformulated: "Hvordan søker jeg på skattefradraget for dataspill?",
		reasoning:    "Removed the filler word 'Og' (and) and replaced 'det' (it) with the specific topic 'skattefradraget for dataspill' from the conversation context.",
	},
	{
		question:     "Hvilke land kommer barna fra?",
		context:      "System: Barnevernsstatistikk 2023",
		reformulated: "Hvilke land kommer barna i barnevernsstatistikken 2023 fra?",
		reasoning:    "Added context 'i barnevernsstatistikken 2023' to clarify which children are being referenced, using information from the document title.",
	},
	{
		question:     "Kan du oppsummere?",
		context:      "System: NIM høringssvar barnevern",
		reformulated: "Kan du oppsummere NIMs høringssvar om barnevern?",
		reasoning:    "Added the missing object 'NIMs høringssvar om barnevern' from the context to make the request specific and standalone.",
	},
}

// Reformulate rewrites a context-dependent question into standalone form
// using the preceding conversation messages. It satisfies the extraction
// stage's reformulation capability.
func (c *Client) Reformulate(ctx context.Context, question string, previous []model.Message) (string, error) {
	user := buildReformulationPrompt(question, buildContextString(previous))

	content, err := c.Chat(ctx, reformulationSystemPrompt, user)
	if err != nil {
		return "", err
	}

	var result struct {
		Reformulated string `json:"reformulated"`
		Reasoning    string `json:"reasoning"`
		IsChanged    bool   `json:"is_changed"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return "", fmt.Errorf("parsing reformulation response: %w", err)
	}
	if strings.TrimSpace(result.Reformulated) == "" {
		return "", fmt.Errorf("reformulation response missing reformulated question")
	}
	return strings.TrimSpace(result.Reformulated), nil
}

// buildContextString formats preceding messages for the reformulation prompt.
// Messages with retrieval chunks get the first document title prefixed so the
// model can resolve references to "dokumentet".
func buildContextString(previous []model.Message) string {
	if len(previous) > reformulationContextWindow {
		previous = previous[len(previous)-reformulationContextWindow:]
	}

	var lines []string
	for _, msg := range previous {
		role := msg.Role
		if role == "" {
			role = "unknown"
		}
		text := strings.TrimSpace(msg.Text)
		for _, chunk := range msg.Chunks {
			if chunk.DocTitle != "" {
				text = fmt.Sprintf("[Document: %s] %s", chunk.DocTitle, text)
				break
			}
		}
		lines = append(lines, capitalize(role)+": "+text)
	}
	return strings.Join(lines, "\n")
}

func buildReformulationPrompt(question, context string) string {
	var b strings.Builder
	for i, ex := range reformulationExamples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Example %d:\nQuestion: %s\nContext:\n%s\n\n", i+1, ex.question, ex.context)
		fmt.Fprintf(&b, "Expected JSON output:\n{\"reformulated\": %q, \"reasoning\": %q, \"is_changed\": true}", ex.reformulated, ex.reasoning)
	}

	if context == "" {
		context = "(No prior context)"
	}
	fmt.Fprintf(&b, "\n\nNow reformulate this question:\n\nQuestion: %s\nContext:\n%s\n\n", question, context)
	b.WriteString("Respond with valid JSON only. No additional text before or after the JSON.")
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const usageModeSystemPrompt = `Du er en ekspert på å kategorisere spørsmål til et RAG (Retrieval-Augmented Generation) system.

Din oppgave er å klassifisere norske spørsmål i tre dimensjoner:

1. **document_scope**: Krever spørsmålet informasjon fra ett eller flere dokumenter?
   - "single_document": Kan besvares fra ett dokument
   - "multi_document": Krever informasjon fra flere dokumenter

2. **operation_type**: Hva slags operasjon kreves?

   Single-document operations:
   - "simple_qa": Finn ett faktum i ett dokument
   - "extraction": Hent ut spesifikk informasjon/liste
   - "summarization": Oppsummer ett dokument
   - "locate": Finn hvor noe står oppgitt

   Multi-document operations:
   - "aggregation": Tell/summer på tvers av dokumenter
   - "comparison": Sammenlign to eller flere dokumenter
   - "synthesis": Kombiner informasjon til helhet
   - "temporal": Endring over tid
   - "cross_reference": Koble relatert informasjon

   Reasoning operations:
   - "inference": Trekk konklusjoner fra fakta
   - "classification": Kategoriser funn
   - "gap_analysis": Identifiser hull/mangler

3. **output_complexity**: Hva slags svar forventes?
   - "factoid": Ett ord/tall/setning
   - "prose": Sammenhengende tekst
   - "list": Punktliste
   - "table": Strukturert tabell

Returner alltid et gyldig JSON-objekt med disse tre feltene.`

// usageModeExample is a few-shot classification example.
type usageModeExample struct {
	question       string
	classification string
	reasoning      string
}

var usageModeExamples = []usageModeExample{
	{
		question:       "Hva er budsjettet til Digdir i 2024?",
		classification: `{"document_scope": "single_document", "operation_type": "simple_qa", "output_complexity": "factoid"}`,
		reasoning:      "Simple question asking for one specific fact from one document",
	},
	{
		question:       "Hva er styringsparameterne i tildelingsbrevet?",
		classification: `{"document_scope": "single_document", "operation_type": "extraction", "output_complexity": "list"}`,
		reasoning:      "Asks to extract multiple items (parameters) from a single document",
	},
	{
		question:       "Gi et sammendrag av denne evalueringen",
		classification: `{"document_scope": "single_document", "operation_type": "summarization", "output_complexity": "prose"}`,
		reasoning:      "Explicitly asks for a summary of one document",
	},
	{
		question:       "Sammenlign prioriteringene til Digdir og DFØ",
		classification: `{"document_scope": "multi_document", "operation_type": "comparison", "output_complexity": "prose"}`,
		reasoning:      "Requires comparing information from two different organizations/documents",
	},
	{
		question:       "Hvor mange etater har fått merknad om internkontroll?",
		classification: `{"document_scope": "multi_document", "operation_type": "aggregation", "output_complexity": "factoid"}`,
		reasoning:      "Counting across multiple entities requires aggregation",
	},
	{
		question:       "Hvordan har målene endret seg fra 2022 til 2024?",
		classification: `{"document_scope": "multi_document", "operation_type": "temporal", "output_complexity": "prose"}`,
		reasoning:      "Analyzing changes over time requires comparing multiple documents",
	},
	{
		question:       "Tyder funnene på at reformen har virket?",
		classification: `{"document_scope": "single_document", "operation_type": "inference", "output_complexity": "prose"}`,
		reasoning:      "Requires drawing conclusions from findings, not just extracting facts",
	},
}

// ClassifyUsageMode asks the model which usage mode a question exercises.
func (c *Client) ClassifyUsageMode(ctx context.Context, question string) (model.UsageMode, error) {
	var b strings.Builder
	for i, ex := range usageModeExamples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Example %d:\nQuestion: %s\nClassification: %s\nReasoning: %s",
			i+1, ex.question, ex.classification, ex.reasoning)
	}
	fmt.Fprintf(&b, "\n\nNow categorize this question:\n\nQuestion: %s\n\n", question)
	b.WriteString(`Return ONLY a JSON object with this structure:
{
  "document_scope": "single_document" or "multi_document",
  "operation_type": "...",
  "output_complexity": "..."
}`)

	content, err := c.Chat(ctx, usageModeSystemPrompt, b.String())
	if err != nil {
		return model.UsageMode{}, err
	}

	var result struct {
		DocumentScope    string `json:"document_scope"`
		OperationType    string `json:"operation_type"`
		OutputComplexity string `json:"output_complexity"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return model.UsageMode{}, fmt.Errorf("parsing usage mode response: %w", err)
	}

	mode, err := model.ParseUsageMode(result.DocumentScope, result.OperationType, result.OutputComplexity)
	if err != nil {
		return model.UsageMode{}, fmt.Errorf("invalid usage mode classification: %w", err)
	}
	return mode, nil
}

// Subject domain taxonomy derived from production data analysis, grouped by
// observed usage frequency.
var (
	subjectTopicsTier1 = []string{
		"Forvaltning og etatsstyring",
		"Digitalisering og kunstig intelligens",
		"Innovasjon og fornyelse",
		"Økonomi og budsjett",
		"Likestilling og mangfold",
	}
	subjectTopicsTier2 = []string{
		"Arbeidsliv og HR",
		"Barnevern",
		"Statistikk og data",
		"Justis og rettsvesen",
		"Miljø og bærekraft",
		"Forsvar og sikkerhet",
		"Helse og omsorg",
		"Utdanning og forskning",
	}
	subjectTopicsTier3 = []string{
		"Språk og kultur",
		"Internasjonale forhold",
		"Innvandring og integrering",
		"Annet",
	}
)

// AllSubjectTopics returns the full subject taxonomy in tier order.
func AllSubjectTopics() []string {
	out := make([]string, 0, len(subjectTopicsTier1)+len(subjectTopicsTier2)+len(subjectTopicsTier3))
	out = append(out, subjectTopicsTier1...)
	out = append(out, subjectTopicsTier2...)
	out = append(out, subjectTopicsTier3...)
	return out
}

func subjectTopicSystemPrompt() string {
	return fmt.Sprintf(`Du er en ekspert på å kategorisere spørsmål fra norsk offentlig sektor inn i fagområder.

Din oppgave er å analysere spørsmålet og identifisere hvilke fagområder det handler om. Du skal velge 0 eller flere kategorier fra den predefinerte listen nedenfor.

**Kategorier (gruppert etter bruksfrekvens):**

TIER 1 - Høy bruk (100+ forekomster):
%s

TIER 2 - Middels bruk (30-99 forekomster):
%s

TIER 3 - Lavere bruk (18-29 forekomster):
%s

**Retningslinjer:**
1. Et spørsmål kan ha 0 eller flere emneområder
2. Velg kun kategorier som er klart relevante for spørsmålet
3. Hvis spørsmålet ikke passer noen kategori, returner tom liste
4. Foretrekk spesifikke kategorier fremfor generisk "Annet"
5. Multi-label: et spørsmål kan tilhøre flere kategorier samtidig

**Returner JSON:**
{"subject_topics": ["Kategori 1", "Kategori 2", ...]}

**Eksempler:**

Spørsmål: "Hva er budsjettet til Digdir i 2024?"
→ {"subject_topics": ["Økonomi og budsjett"]}

Spørsmål: "Hvordan påvirker digitalisering mangfoldet i offentlig sektor?"
→ {"subject_topics": ["Digitalisering og kunstig intelligens", "Likestilling og mangfold"]}

Spørsmål: "Kan du gi et sammendrag?"
→ {"subject_topics": []}

Spørsmål: "Hvilke forbedringer er gjort i barnevernet etter 2023?"
→ {"subject_topics": ["Barnevern"]}

Spørsmål: "Hvordan kan innovasjon forbedre forvaltningen i offentlig sektor?"
→ {"subject_topics": ["Forvaltning og etatsstyring", "Innovasjon og fornyelse"]}
`,
		strings.Join(subjectTopicsTier1, ", "),
		strings.Join(subjectTopicsTier2, ", "),
		strings.Join(subjectTopicsTier3, ", "))
}

// ClassifySubjects asks the model which subject domains a question touches.
// Topics outside the taxonomy are kept with a warning so taxonomy drift shows
// up in analysis rather than disappearing.
func (c *Client) ClassifySubjects(ctx context.Context, question string) ([]string, error) {
	user := fmt.Sprintf("Kategoriser dette norske spørsmålet:\n\nSpørsmål: %q\n\nReturner JSON med subject_topics liste.", question)

	content, err := c.Chat(ctx, subjectTopicSystemPrompt(), user)
	if err != nil {
		return nil, err
	}

	var result struct {
		SubjectTopics []string `json:"subject_topics"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return nil, fmt.Errorf("parsing subject topics response: %w", err)
	}

	known := AllSubjectTopics()
	for _, topic := range result.SubjectTopics {
		if !slices.Contains(known, topic) {
			slog.Warn("unknown subject topic, preserving for analysis", "topic", topic, "question", truncate(question, 50))
		}
	}
	if result.SubjectTopics == nil {
		return []string{}, nil
	}
	return result.SubjectTopics, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
