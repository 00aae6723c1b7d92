// Package trigger decides whether a question should be augmented with live
// web-search results.
//
// The decision is an ordered list of pure rules. The first rule that matches
// wins, so explicit intent and privacy always dominate the freshness and
// knowledge-gap heuristics.
package trigger

import (
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/tokens"
)

// SubstantialContextTokens is the estimated-token size above which free
// context or chunk text is assumed to contain the answer.
const SubstantialContextTokens = 500

// Rule names the rule category that produced a Decision.
type Rule string

const (
	RuleExplicitRequest     Rule = "explicit_request"
	RuleDocumentRejection   Rule = "document_rejection"
	RulePersonalData        Rule = "personal_data"
	RuleCurrentInformation  Rule = "current_information"
	RuleGeneralKnowledge    Rule = "general_knowledge_no_context"
	RuleDocumentWithContext Rule = "document_question_with_context"
	RuleDefault             Rule = "default"
)

// Input is one classification request.
type Input struct {
	Query   string
	Context string
	Chunks  string
}

// Decision is the classifier result.
type Decision struct {
	NeedsWeb bool
	// Explicit is set when the user asked for the web (or rejected the
	// documents) and document context should be demoted.
	Explicit bool
	Rule     Rule
	// Matched is the phrase that fired the rule, if any.
	Matched string
}

// evaluation carries the precomputed facts every rule reads.
type evaluation struct {
	raw         string
	query       string
	substantial bool
}

type rule func(e *evaluation) (Decision, bool)

// rules is evaluated in order. Do not reorder: several rules can match the
// same query.
var rules = []rule{
	explicitRequest,
	documentRejection,
	personalData,
	currentInformation,
	knowledgeVersusDocuments,
	defaultRule,
}

// Classify runs the rule cascade over in.
func Classify(in Input) Decision {
	substantial := tokens.EstimateTokens(in.Context) > SubstantialContextTokens ||
		tokens.EstimateTokens(in.Chunks) > SubstantialContextTokens
	e := &evaluation{
		raw:         strings.ToLower(in.Query),
		query:       normalize(in.Query),
		substantial: substantial,
	}
	for _, r := range rules {
		if d, ok := r(e); ok {
			return d
		}
	}
	return Decision{Rule: RuleDefault}
}

// NeedsWebSearch is shorthand for Classify(in).NeedsWeb.
func NeedsWebSearch(in Input) bool {
	return Classify(in).NeedsWeb
}

func explicitRequest(e *evaluation) (Decision, bool) {
	if p, ok := ExplicitPhrases.Match(e.query); ok {
		return Decision{NeedsWeb: true, Explicit: true, Rule: RuleExplicitRequest, Matched: p}, true
	}
	// A pasted link is a request to read it.
	if strings.Contains(e.raw, "http://") || strings.Contains(e.raw, "https://") {
		return Decision{NeedsWeb: true, Explicit: true, Rule: RuleExplicitRequest, Matched: "url"}, true
	}
	return Decision{}, false
}

func documentRejection(e *evaluation) (Decision, bool) {
	if p, ok := RejectionPhrases.Match(e.query); ok {
		return Decision{NeedsWeb: true, Explicit: true, Rule: RuleDocumentRejection, Matched: p}, true
	}
	neg, ok := NegationPhrases.Match(e.query)
	if !ok {
		return Decision{}, false
	}
	if _, ok := documentWord.Match(e.query); ok {
		return Decision{NeedsWeb: true, Explicit: true, Rule: RuleDocumentRejection, Matched: neg}, true
	}
	return Decision{}, false
}

func personalData(e *evaluation) (Decision, bool) {
	if p, ok := PersonalPhrases.Match(e.query); ok {
		return Decision{Rule: RulePersonalData, Matched: p}, true
	}
	if p, ok := PersonalPronouns.Match(e.query); ok {
		return Decision{Rule: RulePersonalData, Matched: p}, true
	}
	return Decision{}, false
}

func currentInformation(e *evaluation) (Decision, bool) {
	if p, ok := CurrentPhrases.Match(e.query); ok {
		return Decision{NeedsWeb: true, Rule: RuleCurrentInformation, Matched: p}, true
	}
	return Decision{}, false
}

func knowledgeVersusDocuments(e *evaluation) (Decision, bool) {
	if p, ok := KnowledgePhrases.Match(e.query); ok && !e.substantial {
		return Decision{NeedsWeb: true, Rule: RuleGeneralKnowledge, Matched: p}, true
	}
	if p, ok := DocumentPhrases.Match(e.query); ok && e.substantial {
		return Decision{Rule: RuleDocumentWithContext, Matched: p}, true
	}
	return Decision{}, false
}

func defaultRule(e *evaluation) (Decision, bool) {
	if e.substantial {
		return Decision{Rule: RuleDefault}, true
	}
	if p, ok := KnowledgePhrases.Match(e.query); ok {
		return Decision{NeedsWeb: true, Rule: RuleDefault, Matched: p}, true
	}
	return Decision{Rule: RuleDefault}, true
}
