package describe

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileTransport(t *testing.T) {
	transport, err := LoadFileTransport("testdata/org.yaml")
	require.NoError(t, err)

	global, err := transport.DescribeGlobal(context.Background())
	require.NoError(t, err)
	require.Len(t, global, 4)
	assert.Equal(t, ObjectSummary{Name: "Account", Label: "Account", Queryable: true}, global[0])
	assert.Equal(t, "Contact", global[1].Label)
	assert.False(t, global[3].Queryable)

	account, err := transport.DescribeObject(context.Background(), "ACCOUNT")
	require.NoError(t, err)
	require.Len(t, account.Fields, 4)
	owner := account.Fields[3]
	assert.Equal(t, TypeReference, owner.Type)
	assert.Equal(t, "Owner", owner.RelationshipName)
	assert.Equal(t, []string{"User"}, owner.ReferenceTo)
	assert.True(t, owner.Groupable)
	assert.False(t, owner.Createable)

	rel, ok := account.ChildRelationship("contacts")
	require.True(t, ok)
	assert.Equal(t, "AccountId", rel.Field)

	_, err = transport.DescribeObject(context.Background(), "Opportunity")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewFileTransport_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		want    string
	}{
		{name: "unknown key", fixture: "objects:\n  - name: A\n    colour: red\n", want: "decode describe fixture"},
		{name: "missing name", fixture: "objects:\n  - label: A\n", want: "has no name"},
		{name: "duplicate", fixture: "objects:\n  - name: A\n  - name: a\n", want: "duplicate object"},
		{name: "unnamed field", fixture: "objects:\n  - name: A\n    fields:\n      - {type: id}\n", want: "A field 0 has no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileTransport(strings.NewReader(tt.fixture))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewFileTransport_Empty(t *testing.T) {
	transport, err := NewFileTransport(strings.NewReader(""))
	require.NoError(t, err)
	global, err := transport.DescribeGlobal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, global)
}

func TestFileTransport_CancelledContext(t *testing.T) {
	transport, err := NewFileTransport(strings.NewReader("objects:\n  - name: A\n"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = transport.DescribeObject(ctx, "A")
	assert.ErrorIs(t, err, context.Canceled)
}
