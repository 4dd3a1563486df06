package domain

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// InfoBox holds the values extracted from an incident info-box fragment.
type InfoBox struct {
	CaseNumber string
	Date       string
	Location   string
}

// infoBoxLabels maps accepted label spellings (lowercased, without the colon)
// to the InfoBox field they fill.
var infoBoxLabels = map[string]string{
	"case number": "case",
	"case no":     "case",
	"case #":      "case",
	"case":        "case",
	"date":        "date",
	"date/time":   "date",
	"reported":    "date",
	"location":    "location",
	"address":     "location",
}

// ParseInfoBox extracts the case number, date and location from an HTML
// fragment of "Label: value" lines separated by <br> or block elements.
// Labels are matched case-insensitively; unknown labels are ignored. Any of
// the three values missing is an ErrMalformedInfoBox.
func ParseInfoBox(fragment string) (InfoBox, error) {
	if strings.TrimSpace(fragment) == "" {
		return InfoBox{}, fmt.Errorf("%w: empty", ErrMalformedInfoBox)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return InfoBox{}, fmt.Errorf("%w: %v", ErrMalformedInfoBox, err)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr").AppendHtml("\n")

	var box InfoBox
	for _, line := range strings.Split(doc.Text(), "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field, known := infoBoxLabels[strings.ToLower(strings.Join(strings.Fields(label), " "))]
		value = strings.Join(strings.Fields(value), " ")
		if !known || value == "" {
			continue
		}
		switch field {
		case "case":
			box.CaseNumber = value
		case "date":
			box.Date = value
		case "location":
			box.Location = value
		}
	}

	switch {
	case box.CaseNumber == "":
		return InfoBox{}, fmt.Errorf("%w: missing case number", ErrMalformedInfoBox)
	case box.Date == "":
		return InfoBox{}, fmt.Errorf("%w: missing date", ErrMalformedInfoBox)
	case box.Location == "":
		return InfoBox{}, fmt.Errorf("%w: missing location", ErrMalformedInfoBox)
	}
	return box, nil
}
