package domain

import "strings"

// DocumentType classifies a knowledge base document.
type DocumentType string

const (
	// DocHistory is the company history document.
	DocHistory DocumentType = "history"
	// DocFintechRegulation is the fintech regulation document.
	DocFintechRegulation DocumentType = "fintech_regulation"
	// DocBankingRegulation is the banking regulation document.
	DocBankingRegulation DocumentType = "banking_regulation"
)

// ParseDocumentType normalizes and validates a document type string.
// Returns ("", false) for unknown values.
func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocHistory:
		return DocHistory, true
	case DocFintechRegulation:
		return DocFintechRegulation, true
	case DocBankingRegulation:
		return DocBankingRegulation, true
	}
	return "", false
}
