// Package describe models object schemas ("describes") and the transports that
// fetch them. Cache deduplicates describe calls within one restore; the
// transports and stores in this package supply the schemas.
package describe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FieldType is the platform data type of a field. Unknown values pass through
// unchanged.
type FieldType string

const (
	TypeID            FieldType = "id"
	TypeString        FieldType = "string"
	TypeTextArea      FieldType = "textarea"
	TypeEmail         FieldType = "email"
	TypePhone         FieldType = "phone"
	TypeURL           FieldType = "url"
	TypeInt           FieldType = "int"
	TypeDouble        FieldType = "double"
	TypeCurrency      FieldType = "currency"
	TypePercent       FieldType = "percent"
	TypeDate          FieldType = "date"
	TypeDateTime      FieldType = "datetime"
	TypeTime          FieldType = "time"
	TypePicklist      FieldType = "picklist"
	TypeMultiPicklist FieldType = "multipicklist"
	TypeBoolean       FieldType = "boolean"
	TypeReference     FieldType = "reference"
)

// Field describes one field of an object.
type Field struct {
	Name             string    `json:"name" yaml:"name"`
	Label            string    `json:"label" yaml:"label"`
	Type             FieldType `json:"type" yaml:"type"`
	RelationshipName string    `json:"relationshipName,omitempty" yaml:"relationshipName,omitempty"`
	ReferenceTo      []string  `json:"referenceTo,omitempty" yaml:"referenceTo,omitempty"`
	Filterable       bool      `json:"filterable" yaml:"filterable"`
	Sortable         bool      `json:"sortable" yaml:"sortable"`
	Groupable        bool      `json:"groupable" yaml:"groupable"`
	Createable       bool      `json:"createable" yaml:"createable"`
	Updateable       bool      `json:"updateable" yaml:"updateable"`
}

// IsPolymorphic reports whether the field can reference more than one object type.
func (f Field) IsPolymorphic() bool {
	return len(f.ReferenceTo) > 1
}

// ChildRelationship links an object to the child records that reference it.
type ChildRelationship struct {
	RelationshipName string `json:"relationshipName" yaml:"relationshipName"`
	ChildObject      string `json:"childObject" yaml:"childObject"`
	Field            string `json:"field" yaml:"field"`
}

// Object is the describe result for one object. Objects are shared between
// callers and must not be modified after they are returned by a transport.
type Object struct {
	Name               string              `json:"name" yaml:"name"`
	Label              string              `json:"label" yaml:"label"`
	Fields             []Field             `json:"fields" yaml:"fields"`
	ChildRelationships []ChildRelationship `json:"childRelationships,omitempty" yaml:"childRelationships,omitempty"`
}

// ChildRelationship finds a child relationship by name, case-insensitively.
func (o *Object) ChildRelationship(name string) (ChildRelationship, bool) {
	for _, rel := range o.ChildRelationships {
		if strings.EqualFold(rel.RelationshipName, name) {
			return rel, true
		}
	}
	return ChildRelationship{}, false
}

// ObjectSummary is one entry of the global describe.
type ObjectSummary struct {
	Name      string `json:"name" yaml:"name"`
	Label     string `json:"label" yaml:"label"`
	Queryable bool   `json:"queryable" yaml:"queryable"`
}

// Transport fetches describes from a schema source.
type Transport interface {
	DescribeGlobal(ctx context.Context) ([]ObjectSummary, error)
	DescribeObject(ctx context.Context, name string) (*Object, error)
}

// ErrObjectNotFound is returned (wrapped) when a transport has no object by
// the requested name.
var ErrObjectNotFound = errors.New("object not found")

// NotFound wraps ErrObjectNotFound with the object name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
}

// TransportError reports a failed call to the schema source.
type TransportError struct {
	Op         string
	Object     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("describe ")
	b.WriteString(e.Op)
	if e.Object != "" {
		b.WriteString(" " + e.Object)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FindSummary looks up an object summary by name, case-insensitively.
func FindSummary(summaries []ObjectSummary, name string) (ObjectSummary, bool) {
	for _, summary := range summaries {
		if strings.EqualFold(summary.Name, name) {
			return summary, true
		}
	}
	return ObjectSummary{}, false
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("soqlrestore/describe")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
