package classifier

import (
	"strings"
	"unicode"

	"github.com/liliang-cn/policyagent/internal/domain"
)

// policyTerms match at the start of a word, so "benefit" covers "benefits"
var policyTerms = []string{
	"policy", "policies", "procedure", "handbook", "guideline", "hr ",
	"leave", "vacation", "pto", "paid time off", "time off", "holiday", "sick",
	"maternity", "paternity", "parental", "bereavement", "absence", "attendance",
	"benefit", "insurance", "health plan", "dental", "vision plan", "401k", "401(k)",
	"retirement", "pension", "wellness",
	"payroll", "salary", "salaries", "paycheck", "payslip", "pay day", "payday",
	"compensation", "bonus", "overtime", "timesheet",
	"expense", "reimburse", "per diem", "travel", "mileage", "corporate card",
	"security", "password", "vpn", "phishing", "data protection", "confidential",
	"remote work", "work from home", "wfh", "hybrid", "office hours", "working hours",
	"dress code", "code of conduct", "harassment", "discrimination", "grievance",
	"performance review", "appraisal", "promotion", "probation",
	"training", "onboarding", "offboarding", "certification", "learning budget",
	"resignation", "termination", "notice period", "severance",
	"employee", "manager approval", "company",
}

// greetingTerms must match whole words
var greetingTerms = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "how are you", "bye", "goodbye",
}

// generalTerms match at the start of a word
var generalTerms = []string{
	"what is", "what are", "what's", "who is", "who was", "when did", "where is",
	"why is", "why do", "how does", "how do you", "explain", "define", "definition",
	"meaning of", "capital of", "history of", "difference between", "tell me about",
	"programming", "python", "javascript", "golang", "java ", "sql", "code",
	"algorithm", "function", "math", "calculate", "translate", "recipe", "science",
}

// Fallback classifies from keywords alone. It is deterministic and biased
// toward POLICY for anything long enough to be a real question.
func Fallback(query string) domain.QueryType {
	text := " " + strings.Join(strings.Fields(normalise(query)), " ") + " "

	switch {
	case containsAny(text, policyTerms, false):
		return domain.QueryTypePolicy
	case containsAny(text, greetingTerms, true):
		return domain.QueryTypeGeneral
	case containsAny(text, generalTerms, false):
		return domain.QueryTypeGeneral
	case len(strings.Fields(query)) <= 2:
		return domain.QueryTypeClarification
	default:
		return domain.QueryTypePolicy
	}
}

// normalise lower-cases and maps punctuation other than ' ( ) to spaces
func normalise(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '(', r == ')':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, s)
}

// containsAny reports whether text, padded with spaces, holds a term that
// starts at a word boundary. whole also requires the term to end at one.
func containsAny(text string, terms []string, whole bool) bool {
	for _, term := range terms {
		needle := " " + term
		if whole {
			needle += " "
		}
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
