package store

import (
	"fmt"
	"regexp"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

var fieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders s as a SOQL string literal.
func quote(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

func linksSubquery(minContentSize int64) string {
	q := "(SELECT Id, ContentDocument.Id, ContentDocument.Title, ContentDocument.FileExtension, " +
		"ContentDocument.ContentSize, ContentDocument.LatestPublishedVersionId FROM ContentDocumentLinks"
	if minContentSize > 0 {
		q += fmt.Sprintf(" WHERE ContentDocument.ContentSize > %d", minContentSize)
	}
	return q + ")"
}

// casesQuery builds the source case query for a filter.
func casesQuery(f models.CaseFilter) (string, error) {
	fields := "Id, CaseNumber"
	var where []string
	if f.CrossReferenceField != "" {
		if !fieldName.MatchString(f.CrossReferenceField) {
			return "", errors.Errorf("invalid cross reference field %q", f.CrossReferenceField)
		}
		fields += ", " + f.CrossReferenceField
		where = append(where, f.CrossReferenceField+" <> ''")
	}
	if len(f.CaseIDs) > 0 {
		ids := make([]string, len(f.CaseIDs))
		for i, id := range f.CaseIDs {
			ids[i] = quote(id)
		}
		where = append(where, "Id IN ("+strings.Join(ids, ", ")+")")
	}

	q := "SELECT " + fields + ", " + linksSubquery(f.MinContentSize) + " FROM Case"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q, nil
}

func caseByIDQuery(id string) string {
	return "SELECT Id, CaseNumber, " + linksSubquery(0) + " FROM Case WHERE Id = " + quote(id)
}

func latestVersionQuery(documentID string) string {
	return "SELECT Id, ContentDocumentId, Title, FileExtension, ContentSize FROM ContentVersion " +
		"WHERE ContentDocumentId = " + quote(documentID) + " AND IsLatest = true"
}
