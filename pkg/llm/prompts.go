package llm

import (
	"encoding/json"
	"strings"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const extractionSystem = `You maintain a list of short factual memories about a user, extracted from their recorded conversations.
Given the memories already known for this conversation and a new transcript, decide which changes to make.

Allowed operations:
- ADD: a new fact not already known. Fields: "op", "content", optional "metadata".
- UPDATE: a known fact that the transcript corrects or refines. Fields: "op", "id" (an existing id), "content" (the full new fact), optional "metadata".
- DELETE: a known fact the transcript shows is no longer true. Fields: "op", "id".

Rules:
- Each memory is one self-contained statement in the third person.
- Only use ids from the existing memories list.
- Leave facts that are unchanged out of the response entirely.
- Metadata may carry "type" (person, event, place, preference, task, fact), "people" (list of names) and "time" (ISO 8601 or a range).
- Return ONLY a JSON object of the form {"operations": [...]}. Return {"operations": []} when nothing changes.`

type promptMemory struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExtractionPrompt renders the user message for memory extraction.
func ExtractionPrompt(transcript string, existing []*conversation.Memory) string {
	list := make([]promptMemory, 0, len(existing))
	for _, m := range existing {
		list = append(list, promptMemory{ID: m.ID, Content: m.Content, Metadata: m.Metadata})
	}
	known, _ := json.MarshalIndent(list, "", "  ")

	var b strings.Builder
	b.WriteString("Existing memories:\n")
	b.Write(known)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func titlePrompt(text string) string {
	return `Generate a concise, descriptive title (3-6 words) for this conversation transcript:

"` + truncateRunes(text, 500) + `"

Rules:
- Maximum 6 words
- Capture the main topic or theme
- Do NOT include speaker names or participants
- No quotes or special characters
- Examples: "Planning Weekend Trip", "Work Project Discussion", "Medical Appointment"

Title:`
}

func summaryPrompt(text string, hasSpeakers bool) string {
	speakerRule := ""
	if hasSpeakers {
		speakerRule = "- Include speaker names when relevant (e.g., \"John discusses X with Sarah\")\n"
	}
	return `Generate a brief, informative summary (1-2 sentences, max 120 characters) for this conversation:

"` + truncateRunes(text, 1000) + `"

Rules:
- Maximum 120 characters
- 1-2 complete sentences
` + speakerRule + `- Capture key topics and outcomes
- Use present tense
- Be specific and informative

Summary:`
}

func detailedSummaryPrompt(text string, hasSpeakers bool) string {
	speakerRules := ""
	if hasSpeakers {
		speakerRules = `- Attribute key points and statements to specific speakers when relevant
- Capture the flow of conversation between participants
- Note any agreements, disagreements, or important exchanges
`
	}
	return `Generate a comprehensive, detailed summary of this conversation transcript.

TRANSCRIPT:
"` + text + `"

Rules:
- Do not open with "This conversation involved..."
- Cover every topic, point and important detail discussed
- Correct obvious transcription errors and drop filler words (um, uh, like, you know)
- Organize by topic or chronologically, in clear paragraphs or bullet points
- Keep the meaning of what was said while improving clarity
- Include context, decisions, action items and conclusions
` + speakerRules + `- Quote word for word only when that is shorter than rephrasing

Someone reading this summary should understand everything important without reading the transcript.

DETAILED SUMMARY:`
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
