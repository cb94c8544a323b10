package msitools

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kolide/msikit/pkg/msidb"
	"github.com/pkg/errors"
)

// IDT archive files are tab separated text with a three line header:
// column names, column types, then the table name followed by its key
// columns.
//
// https://learn.microsoft.com/en-us/windows/win32/msi/archive-file-format

var idtEscaper = strings.NewReplacer(
	"\t", "\x10",
	"\r", "\x11",
	"\n", "\x19",
)

func escape(s string) string {
	return idtEscaper.Replace(s)
}

func writeIDT(path string, t *idtTable) error {
	var buf bytes.Buffer

	writeLine(&buf, t.schema.ColumnNames())

	types := make([]string, len(t.schema.Columns))
	for i, c := range t.schema.Columns {
		types[i] = c.IDTType()
	}
	writeLine(&buf, types)

	writeLine(&buf, append([]string{t.schema.Name}, t.schema.Keys()...))

	for _, row := range t.rows {
		writeLine(&buf, row)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func writeLine(buf *bytes.Buffer, fields []string) {
	buf.WriteString(strings.Join(fields, "\t"))
	buf.WriteString("\r\n")
}

// forceCodepageIDT sets the database code page. Its header is two
// empty lines followed by the code page and the magic table name.
func forceCodepageIDT(codepage int) []byte {
	var buf bytes.Buffer
	buf.WriteString("\r\n\r\n")
	writeLine(&buf, []string{fmt.Sprintf("%d", codepage), "_ForceCodepage"})
	return buf.Bytes()
}

// Summary information property ids.
const (
	pidCodepage   = 1
	pidTitle      = 2
	pidSubject    = 3
	pidAuthor     = 4
	pidKeywords   = 5
	pidComments   = 6
	pidTemplate   = 7
	pidLastAuthor = 8
	pidRevNumber  = 9
	pidCreated    = 12
	pidLastSaved  = 13
	pidPageCount  = 14
	pidWordCount  = 15
	pidAppName    = 18
	pidSecurity   = 19
)

// summaryIDT renders the pseudo table msibuild turns into the summary
// information stream.
func summaryIDT(info msidb.SummaryInfo) []byte {
	var buf bytes.Buffer
	writeLine(&buf, []string{"PropertyId", "Value"})
	writeLine(&buf, []string{"s255", "l255"})
	writeLine(&buf, []string{"_SummaryInformation", "PropertyId"})

	filetime := func(t time.Time) string { return t.UTC().Format("2006/01/02 15:04:05") }

	props := []struct {
		id    int
		value string
	}{
		{pidCodepage, fmt.Sprintf("%d", info.Codepage)},
		{pidTitle, info.Title},
		{pidSubject, info.Subject},
		{pidAuthor, info.Author},
		{pidKeywords, info.Keywords},
		{pidComments, info.Comments},
		{pidTemplate, info.Template},
		{pidLastAuthor, info.LastAuthor},
		{pidRevNumber, info.RevisionNumber},
		{pidCreated, filetime(info.Created)},
		{pidLastSaved, filetime(info.LastSaved)},
		{pidPageCount, fmt.Sprintf("%d", info.PageCount)},
		{pidWordCount, fmt.Sprintf("%d", info.WordCount)},
		{pidAppName, info.AppName},
		{pidSecurity, fmt.Sprintf("%d", info.Security)},
	}
	for _, p := range props {
		if p.value == "" {
			continue
		}
		writeLine(&buf, []string{fmt.Sprintf("%d", p.id), escape(p.value)})
	}
	return buf.Bytes()
}
