package describe

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
)

// Queryer is the subset of *sql.DB used by SQLTransport.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLTransport serves describes from a MySQL-compatible database's
// INFORMATION_SCHEMA. Tables become objects, columns become fields and
// single-column foreign keys become relationships.
type SQLTransport struct {
	db       Queryer
	database string
}

// NewSQLTransport describes the tables of database.
func NewSQLTransport(db Queryer, database string) *SQLTransport {
	return &SQLTransport{db: db, database: database}
}

func (t *SQLTransport) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	ctx, span := startSpan(ctx, "describe.sql.global", attribute.String("db.name", t.database))
	defer span.End()

	query, args, err := sq.Select("TABLE_NAME", "TABLE_COMMENT").
		From("INFORMATION_SCHEMA.TABLES").
		Where(sq.Eq{"TABLE_SCHEMA": t.database, "TABLE_TYPE": []string{"BASE TABLE", "VIEW"}}).
		OrderBy("TABLE_NAME").
		ToSql()
	if err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "global", Err: err}
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "global", Err: err}
	}
	defer func() {
		_ = rows.Close()
	}()

	var summaries []ObjectSummary
	for rows.Next() {
		var name string
		var comment sql.NullString
		if err := rows.Scan(&name, &comment); err != nil {
			recordSpanError(span, err)
			return nil, &TransportError{Op: "global", Err: err}
		}
		summaries = append(summaries, ObjectSummary{
			Name:      name,
			Label:     labelFor(name, comment),
			Queryable: true,
		})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "global", Err: err}
	}
	return summaries, nil
}

func (t *SQLTransport) DescribeObject(ctx context.Context, name string) (*Object, error) {
	ctx, span := startSpan(ctx, "describe.sql.object",
		attribute.String("db.name", t.database),
		attribute.String("describe.object", name),
	)
	defer span.End()

	table, columns, err := t.columns(ctx, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "object", Object: name, Err: err}
	}
	if len(columns) == 0 {
		return nil, NotFound(name)
	}

	outgoing, err := t.outgoingKeys(ctx, table)
	if err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "object", Object: name, Err: fmt.Errorf("foreign keys: %w", err)}
	}
	incoming, err := t.incomingKeys(ctx, table)
	if err != nil {
		recordSpanError(span, err)
		return nil, &TransportError{Op: "object", Object: name, Err: fmt.Errorf("referencing keys: %w", err)}
	}

	obj := &Object{Name: table, Label: table}
	for _, col := range columns {
		obj.Fields = append(obj.Fields, col.field(outgoing[strings.ToLower(col.name)]))
	}
	obj.ChildRelationships = childRelationships(incoming)
	return obj, nil
}

type columnRow struct {
	name       string
	dataType   string
	columnType string
	key        string
	comment    string
}

func (c columnRow) field(referenced string) Field {
	f := Field{
		Name:       c.name,
		Label:      labelFor(c.name, sql.NullString{String: c.comment, Valid: true}),
		Type:       sqlFieldType(c.dataType, c.columnType),
		Filterable: true,
		Createable: true,
		Updateable: true,
	}
	switch {
	case c.key == "PRI":
		f.Type = TypeID
		f.Createable = false
		f.Updateable = false
	case referenced != "":
		f.Type = TypeReference
		f.RelationshipName = relationshipName(c.name)
		f.ReferenceTo = []string{referenced}
	}
	f.Sortable = f.Type != TypeTextArea && f.Type != TypeMultiPicklist
	f.Groupable = f.Sortable && f.Type != TypeDouble
	return f
}

// columns returns the canonical table name and its columns. name is matched
// case-insensitively.
func (t *SQLTransport) columns(ctx context.Context, name string) (string, []columnRow, error) {
	query, args, err := sq.Select("TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_KEY", "COLUMN_COMMENT").
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": t.database}).
		Where(sq.Expr("LOWER(TABLE_NAME) = ?", strings.ToLower(name))).
		OrderBy("ORDINAL_POSITION").
		ToSql()
	if err != nil {
		return "", nil, err
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var table string
	var columns []columnRow
	for rows.Next() {
		var col columnRow
		var comment sql.NullString
		if err := rows.Scan(&table, &col.name, &col.dataType, &col.columnType, &col.key, &comment); err != nil {
			return "", nil, err
		}
		col.comment = strings.TrimSpace(comment.String)
		columns = append(columns, col)
	}
	return table, columns, rows.Err()
}

type keyUsage struct {
	table      string
	column     string
	constraint string
	referenced string
}

// outgoingKeys maps lowercase column name to referenced table for the
// single-column foreign keys declared on table.
func (t *SQLTransport) outgoingKeys(ctx context.Context, table string) (map[string]string, error) {
	usages, err := t.keyUsage(ctx, sq.Eq{"TABLE_SCHEMA": t.database, "TABLE_NAME": table})
	if err != nil {
		return nil, err
	}
	refs := make(map[string]string)
	for _, usage := range singleColumnKeys(usages) {
		refs[strings.ToLower(usage.column)] = usage.referenced
	}
	return refs, nil
}

// incomingKeys returns the single-column foreign keys that reference table.
func (t *SQLTransport) incomingKeys(ctx context.Context, table string) ([]keyUsage, error) {
	usages, err := t.keyUsage(ctx, sq.Eq{"TABLE_SCHEMA": t.database, "REFERENCED_TABLE_NAME": table})
	if err != nil {
		return nil, err
	}
	return singleColumnKeys(usages), nil
}

func (t *SQLTransport) keyUsage(ctx context.Context, where sq.Eq) ([]keyUsage, error) {
	query, args, err := sq.Select("TABLE_NAME", "COLUMN_NAME", "CONSTRAINT_NAME", "REFERENCED_TABLE_NAME").
		From("INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		Where(where).
		Where(sq.NotEq{"REFERENCED_TABLE_NAME": nil}).
		OrderBy("TABLE_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var usages []keyUsage
	for rows.Next() {
		var usage keyUsage
		if err := rows.Scan(&usage.table, &usage.column, &usage.constraint, &usage.referenced); err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	return usages, rows.Err()
}

// singleColumnKeys drops composite constraints; they cannot be expressed as a
// single reference field.
func singleColumnKeys(usages []keyUsage) []keyUsage {
	counts := make(map[string]int)
	for _, usage := range usages {
		counts[usage.table+"\x00"+usage.constraint]++
	}
	var single []keyUsage
	for _, usage := range usages {
		if counts[usage.table+"\x00"+usage.constraint] == 1 {
			single = append(single, usage)
		}
	}
	return single
}

func childRelationships(incoming []keyUsage) []ChildRelationship {
	perTable := make(map[string]int)
	for _, usage := range incoming {
		perTable[usage.table]++
	}
	rels := make([]ChildRelationship, 0, len(incoming))
	for _, usage := range incoming {
		rels = append(rels, ChildRelationship{
			RelationshipName: childRelationshipName(usage.table, usage.column, perTable[usage.table] == 1),
			ChildObject:      usage.table,
			Field:            usage.column,
		})
	}
	sort.SliceStable(rels, func(i, j int) bool {
		return rels[i].RelationshipName < rels[j].RelationshipName
	})
	return rels
}

func labelFor(name string, comment sql.NullString) string {
	if label := strings.TrimSpace(comment.String); comment.Valid && label != "" {
		return label
	}
	return name
}
