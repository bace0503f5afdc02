package service

import (
	"regexp"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/repository"

	"github.com/shopspring/decimal"
)

var (
	amountPattern    = regexp.MustCompile(`(?i)\b(?:total|amount(?: paid)?|paid|RM|MYR|USD)\b[\s:]*\$?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	labeledDate      = regexp.MustCompile(`(?i)(?:payment date|date)[\s:]*([0-9]{4}-[0-9]{2}-[0-9]{2})`)
	isoDate          = regexp.MustCompile(`\b([0-9]{4}-[0-9]{2}-[0-9]{2})\b`)
	usDate           = regexp.MustCompile(`\b([0-9]{2})/([0-9]{2})/([0-9]{4})\b`)
	referencePattern = regexp.MustCompile(`(?i)(?:transaction|txn|ref(?:erence)?|confirmation)(?:\s*(?:id|no\.?|number))?[\s:#]*([A-Z0-9][A-Z0-9-]{5,})`)
)

// ParseReceiptText pulls amount, date and reference out of OCR text. Fields
// that cannot be found are left empty.
func ParseReceiptText(text string) repository.ReceiptExtraction {
	var ex repository.ReceiptExtraction

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		if d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil {
			f := d.Round(2).InexactFloat64()
			ex.Amount = &f
		}
	}

	switch {
	case labeledDate.MatchString(text):
		ex.Date = labeledDate.FindStringSubmatch(text)[1]
	case isoDate.MatchString(text):
		ex.Date = isoDate.FindStringSubmatch(text)[1]
	case usDate.MatchString(text):
		m := usDate.FindStringSubmatch(text)
		ex.Date = m[3] + "-" + m[1] + "-" + m[2]
	}

	if m := referencePattern.FindStringSubmatch(text); m != nil {
		ex.Reference = strings.ToUpper(m[1])
	}
	return ex
}
