package parser

import (
	"fmt"
	"regexp"
	"strconv"
)

// ParseError reports a page whose structure did not match the expected
// pattern, naming the field or pattern that was absent. A page that
// fails to parse never yields a partially populated record.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("page structure mismatch: missing %s", e.Field)
	}
	return fmt.Sprintf("page structure mismatch: %s (%s)", e.Field, e.Detail)
}

// Structural extracts typed records from listing and detail pages. It
// is a pure function of the page bytes: the same artifact always
// parses into the same records.
type Structural struct{}

func New() *Structural {
	return &Structural{}
}

var totalProductsPattern = regexp.MustCompile(`Products\s*\((\d+)\)`)

// TotalProducts extracts the catalog size from the listing header,
// e.g. "Products (4498)".
func (p *Structural) TotalProducts(html string) (int, error) {
	m := totalProductsPattern.FindStringSubmatch(html)
	if m == nil {
		return 0, &ParseError{Field: "total product count header"}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &ParseError{Field: "total product count header", Detail: err.Error()}
	}
	return n, nil
}
