// Package llm provides model-assisted implementations of the salience
// classifier, merge judge and session summarizer, backed by the
// Anthropic API. Each one shares the contract of its heuristic
// counterpart in the judge package, so they are drop-in swaps.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/engram/core"
	"github.com/becomeliminal/engram/memory"
)

// DefaultModel is a small, fast model; these calls sit on the hot
// ingestion path.
const DefaultModel = "claude-3-5-haiku-latest"

const classifierSystemPrompt = `You decide whether a chat message contains information worth remembering about the speaker long-term.

Memorable: durable facts about the speaker (identity, preferences, relationships, allergies, events, decisions).
Not memorable: greetings, questions, small talk, requests that carry no lasting fact.

When memorable, rewrite the message as a short third-person-free fact statement, resolving obvious pronouns from the context if given.

Respond with ONLY a JSON object:
{"memorable": true|false, "fact": "normalized fact text", "kind": "fact"|"episodic", "importance": 1-10}`

const judgeSystemPrompt = `You compare two memory statements about the same user that were found to be semantically similar.

Answer how the NEWER statement relates to the OLDER one:
- "duplicate": same information, nothing new
- "refinement": adds to, corrects or contradicts the older statement
- "distinct": actually about different things

Respond with ONLY a JSON object: {"verdict": "duplicate"|"refinement"|"distinct"}`

const summarizerSystemPrompt = `You are a meticulous biographer. Write a concise, observationally rich diary entry for the given conversation session. Focus on key topics, user preferences, decisions made and project progress. Ignore trivial chatter. Respond with the diary entry text only.`

// Classifier is the model-assisted salience gate.
type Classifier struct {
	client *anthropic.Client
	model  string
}

// NewClassifier creates a model-assisted classifier. Model defaults to
// DefaultModel when empty.
func NewClassifier(client *anthropic.Client, model string) *Classifier {
	if model == "" {
		model = DefaultModel
	}
	return &Classifier{client: client, model: model}
}

// Classify asks the model for a salience verdict. Errors are returned
// to the pipeline, which falls back to storing the turn verbatim
// rather than losing it.
func (c *Classifier) Classify(ctx context.Context, turn core.Turn) (memory.Salience, error) {
	reply, err := complete(ctx, c.client, c.model, classifierSystemPrompt, turn.Text)
	if err != nil {
		return memory.Salience{}, err
	}

	var parsed struct {
		Memorable  bool   `json:"memorable"`
		Fact       string `json:"fact"`
		Kind       string `json:"kind"`
		Importance int    `json:"importance"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return memory.Salience{}, fmt.Errorf("parse classifier reply %q: %w", reply, err)
	}

	kind := memory.Kind(parsed.Kind)
	if kind != memory.KindFact && kind != memory.KindEpisodic {
		kind = memory.KindEpisodic
	}
	importance := parsed.Importance
	if importance < 1 || importance > 10 {
		importance = 5
	}
	return memory.Salience{
		Memorable:  parsed.Memorable,
		Fact:       parsed.Fact,
		Kind:       kind,
		Importance: importance,
	}, nil
}

// Judge is the model-assisted merge judge.
type Judge struct {
	client *anthropic.Client
	model  string
}

// NewJudge creates a model-assisted merge judge.
func NewJudge(client *anthropic.Client, model string) *Judge {
	if model == "" {
		model = DefaultModel
	}
	return &Judge{client: client, model: model}
}

// Judge asks the model how the newer statement relates to the older.
func (j *Judge) Judge(ctx context.Context, older, newer string) (memory.Verdict, error) {
	prompt := fmt.Sprintf("OLDER: %s\nNEWER: %s", older, newer)
	reply, err := complete(ctx, j.client, j.model, judgeSystemPrompt, prompt)
	if err != nil {
		return memory.VerdictDistinct, err
	}

	var parsed struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return memory.VerdictDistinct, fmt.Errorf("parse judge reply %q: %w", reply, err)
	}

	switch parsed.Verdict {
	case "duplicate":
		return memory.VerdictDuplicate, nil
	case "refinement":
		return memory.VerdictRefinement, nil
	default:
		return memory.VerdictDistinct, nil
	}
}

// Summarizer condenses session history into diary entries.
type Summarizer struct {
	client *anthropic.Client
	model  string
}

// NewSummarizer creates a model-assisted session summarizer.
func NewSummarizer(client *anthropic.Client, model string) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	return &Summarizer{client: client, model: model}
}

// Summarize writes one diary entry for the conversation trace.
func (s *Summarizer) Summarize(ctx context.Context, messages []core.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("CONVERSATION TRACE:\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(msg.Role), msg.Content)
	}
	return complete(ctx, s.client, s.model, summarizerSystemPrompt, b.String())
}

// complete runs a single-turn message exchange and concatenates the
// text blocks of the response.
func complete(ctx context.Context, client *anthropic.Client, model, system, prompt string) (string, error) {
	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return strings.TrimSpace(text), nil
}

// extractJSON pulls the first {...} object out of a reply, tolerating
// models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
