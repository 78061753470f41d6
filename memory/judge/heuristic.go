// Package judge provides heuristic implementations of the pluggable
// salience and merge decisions. They run with zero external calls and
// are the defaults; the llm subpackage provides model-assisted
// versions with the same contracts.
package judge

import (
	"context"
	"strings"

	"github.com/becomeliminal/engram/core"
	"github.com/becomeliminal/engram/memory"
)

// identityCues mark durable, high-signal user facts: stored as
// kind=fact with maximum importance.
var identityCues = []string{
	"my name",
	"call me",
	"i was born",
	"i am allergic",
	"i'm allergic",
	"allergic to",
	"allergy",
	"i live in",
	"i work at",
	"i work as",
}

// episodicCues mark assertions worth remembering but not identity
// level: preferences, events, opinions.
var episodicCues = []string{
	"i am ",
	"i'm ",
	"i like",
	"i love",
	"i hate",
	"i prefer",
	"i have a",
	"i have an",
	"my ",
	"i bought",
	"i moved",
	"i started",
	"i decided",
	"remember that",
	"my birthday",
}

// contradictionCues in a newer text signal a correction of an earlier
// fact rather than a plain repeat.
var contradictionCues = []string{
	"actually",
	"no longer",
	"not anymore",
	"instead of",
	"i was wrong",
	"correction",
}

// Classifier is a cue-based salience gate with a deliberate
// over-remember bias: consolidation prunes redundancy later, but a
// dropped fact is gone for good.
type Classifier struct{}

// NewClassifier creates the heuristic salience classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify judges whether the turn asserts a durable fact about the
// speaker. Questions and empty turns are never memorable; first-person
// assertions almost always are.
func (c *Classifier) Classify(ctx context.Context, turn core.Turn) (memory.Salience, error) {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return memory.Salience{}, nil
	}
	lower := strings.ToLower(text)

	// Questions ask, they don't assert.
	if strings.HasSuffix(lower, "?") {
		return memory.Salience{}, nil
	}

	for _, cue := range identityCues {
		if strings.Contains(lower, cue) {
			return memory.Salience{
				Memorable:  true,
				Fact:       text,
				Kind:       memory.KindFact,
				Importance: 10,
			}, nil
		}
	}
	for _, cue := range episodicCues {
		if strings.Contains(lower, cue) {
			return memory.Salience{
				Memorable:  true,
				Fact:       text,
				Kind:       memory.KindEpisodic,
				Importance: 5,
			}, nil
		}
	}

	// Over-remember bias: a substantive first-person statement is kept
	// even without a recognized cue.
	if len(strings.Fields(lower)) >= 5 && (strings.HasPrefix(lower, "i ") || strings.Contains(lower, " i ")) {
		return memory.Salience{
			Memorable:  true,
			Fact:       text,
			Kind:       memory.KindEpisodic,
			Importance: 3,
		}, nil
	}

	return memory.Salience{}, nil
}

// Judge decides the relation between two overlapping memory texts via
// token-set containment. It only runs on pairs whose embeddings
// already cleared the merge threshold, so its job is telling duplicates
// apart from refinements, not finding matches.
type Judge struct{}

// NewJudge creates the heuristic merge judge.
func NewJudge() *Judge {
	return &Judge{}
}

// Judge compares the older and newer text.
func (j *Judge) Judge(ctx context.Context, older, newer string) (memory.Verdict, error) {
	oldTokens := tokenSet(older)
	newTokens := tokenSet(newer)
	if len(oldTokens) == 0 || len(newTokens) == 0 {
		return memory.VerdictDistinct, nil
	}

	overlap := 0
	for tok := range oldTokens {
		if _, ok := newTokens[tok]; ok {
			overlap++
		}
	}
	oldCovered := float64(overlap) / float64(len(oldTokens))
	newCovered := float64(overlap) / float64(len(newTokens))

	// Same tokens both ways: a repeat, keep the earliest.
	if oldCovered >= 0.9 && newCovered >= 0.9 {
		return memory.VerdictDuplicate, nil
	}

	// An explicit correction supersedes regardless of overlap shape.
	lowerNew := strings.ToLower(newer)
	for _, cue := range contradictionCues {
		if strings.Contains(lowerNew, cue) {
			return memory.VerdictRefinement, nil
		}
	}

	// Newer text covers the old fact and adds more: a refinement.
	if oldCovered >= 0.6 && len(newTokens) > len(oldTokens) {
		return memory.VerdictRefinement, nil
	}

	// Newer text is a strict subset of the old: adds nothing.
	if newCovered >= 0.9 && len(newTokens) <= len(oldTokens) {
		return memory.VerdictDuplicate, nil
	}

	return memory.VerdictDistinct, nil
}

// tokenSet lowercases, strips punctuation and drops one-letter tokens.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if len(tok) > 1 {
			set[tok] = struct{}{}
		}
	}
	return set
}
