// Package sqlutil lays a parent table and its child tables out in a plain
// SQL database. Tag values live in <parent>_tags, one row per child table,
// observations in <parent>_obs, and a view named <parent> joins the two so
// queries can address the parent table directly.
package sqlutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

// TableName is the column of both tables holding the child table name.
const TableName = "tbname"

// TypeMap converts a parent table column type to the database's type.
type TypeMap func(typ string) string

// TagsTable returns the name of the table holding tag rows.
func TagsTable(parent string) string { return parent + "_tags" }

// ObsTable returns the name of the table holding observations.
func ObsTable(parent string) string { return parent + "_obs" }

// ParentDDL returns the statements creating the layout of table. Each
// statement is idempotent. obsKey, if non-empty, is appended to the
// observation table's column list (e.g. a primary key clause). createView
// is the idempotent view creation clause of the database, such as
// "CREATE VIEW IF NOT EXISTS".
func ParentDDL(table lcdk.ParentTable, types TypeMap, obsKey, createView string) ([]string, error) {
	if !lcdk.ValidIdentifier(table.Name) {
		return nil, errors.Errorf("invalid parent table name '%s'", table.Name)
	}
	for _, c := range append(append([]lcdk.Column{}, table.Columns...), table.Tags...) {
		if !lcdk.ValidIdentifier(c.Name) {
			return nil, errors.Errorf("invalid column name '%s'", c.Name)
		}
	}
	tags, obs := TagsTable(table.Name), ObsTable(table.Name)

	tagCols := []string{TableName + " " + types("NCHAR(192)") + " PRIMARY KEY"}
	for _, c := range table.Tags {
		tagCols = append(tagCols, c.Name+" "+types(c.Type))
	}
	obsCols := []string{TableName + " " + types("NCHAR(192)") + " NOT NULL"}
	for _, c := range table.Columns {
		obsCols = append(obsCols, c.Name+" "+types(c.Type))
	}
	if obsKey != "" {
		obsCols = append(obsCols, obsKey)
	}

	view := make([]string, 0, len(table.Columns)+len(table.Tags)+1)
	for _, c := range table.Columns {
		view = append(view, "o."+c.Name)
	}
	for _, c := range table.Tags {
		view = append(view, "t."+c.Name)
	}
	view = append(view, "t."+TableName)

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tags, strings.Join(tagCols, ", ")),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", obs, strings.Join(obsCols, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_obs_tb_ts ON %s (%s, %s)", table.Name, obs, TableName, lcdk.ColTimestamp),
	}
	for _, c := range []string{lcdk.TagPartition, lcdk.TagSourceID} {
		if hasColumn(table.Tags, c) {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_tags_%s ON %s (%s)", table.Name, c, tags, c))
		}
	}
	stmts = append(stmts, fmt.Sprintf("%s %s AS SELECT %s FROM %s o JOIN %s t ON o.%s = t.%s",
		createView, table.Name, strings.Join(view, ", "), obs, tags, TableName, TableName))
	return stmts, nil
}

func hasColumn(cols []lcdk.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// TagColumns is the column list of the tags table, in insert order.
var TagColumns = []string{TableName, lcdk.TagPartition, lcdk.TagSourceID, lcdk.TagRA, lcdk.TagDec, lcdk.TagClass}

// ObsColumns is the column list of the observations table, in insert order.
var ObsColumns = []string{TableName, lcdk.ColTimestamp, lcdk.ColBand, lcdk.ColMag, lcdk.ColMagErr, lcdk.ColFlux, lcdk.ColFluxErr, lcdk.ColJD}

// InsertTags returns a single multi-row insert of tables into the tags
// table which skips names already present, and its arguments. placeholder
// renders the n'th (1-based) parameter.
func InsertTags(parent string, tables []lcdk.ChildTable, placeholder func(n int) string) (string, []interface{}) {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", TagsTable(parent), strings.Join(TagColumns, ", "))
	args := make([]interface{}, 0, len(tables)*len(TagColumns))
	for i, t := range tables {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range TagColumns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder(len(args) + j + 1))
		}
		sb.WriteByte(')')
		args = append(args, t.Name, t.PartitionKey, t.SourceID, t.RA, t.Dec, t.Class)
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", TableName)
	return sb.String(), args
}

// Question renders every placeholder as '?'.
func Question(int) string { return "?" }

// Dollar renders placeholders as $1, $2, ...
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Rebind replaces each '?' outside of quoted strings in query with $1, $2,
// and so on.
func Rebind(query string) string {
	sb := strings.Builder{}
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == '?' && !inQuote:
			n++
			sb.WriteString(Dollar(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
