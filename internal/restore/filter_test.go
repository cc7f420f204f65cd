package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soqlrestore/internal/soql"
)

func cond(field string, op Operator, value string, literalType soql.LiteralType) FilterRow {
	return FilterRow{Condition: &ConditionRow{Field: field, Operator: op, Value: value, LiteralType: literalType}}
}

func TestFlatten_OperatorNormalization(t *testing.T) {
	tests := []struct {
		where  string
		op     Operator
		value  string
		values []string
	}{
		{where: "Name = 'x'", op: OpEq, value: "x"},
		{where: "NOT Name = 'x'", op: OpNe, value: "x"},
		{where: "Name != 'x'", op: OpNe, value: "x"},
		{where: "Name <> 'x'", op: OpNe, value: "x"},
		{where: "NOT Name != 'x'", op: OpEq, value: "x"},
		{where: "Name = null", op: OpIsNull},
		{where: "NOT Name = null", op: OpIsNotNull},
		{where: "Name != null", op: OpIsNotNull},
		{where: "NOT Name != null", op: OpIsNull},
		{where: "AnnualRevenue < 10", op: OpLt, value: "10"},
		{where: "AnnualRevenue <= 10", op: OpLte, value: "10"},
		{where: "AnnualRevenue > 10", op: OpGt, value: "10"},
		{where: "AnnualRevenue >= 10.5", op: OpGte, value: "10.5"},
		{where: "NOT AnnualRevenue < 10", op: OpGte, value: "10"},
		{where: "NOT AnnualRevenue <= 10", op: OpGt, value: "10"},
		{where: "NOT AnnualRevenue > 10", op: OpLte, value: "10"},
		{where: "NOT AnnualRevenue >= 10", op: OpLt, value: "10"},
		{where: "Name LIKE '%x%'", op: OpContains, value: "x"},
		{where: "NOT Name LIKE '%x%'", op: OpDoesNotContain, value: "x"},
		{where: "Name LIKE 'x%'", op: OpStartsWith, value: "x"},
		{where: "NOT Name LIKE 'x%'", op: OpDoesNotStartWith, value: "x"},
		{where: "Name LIKE '%x'", op: OpEndsWith, value: "x"},
		{where: "NOT Name LIKE '%x'", op: OpDoesNotEndWith, value: "x"},
		{where: "Name LIKE 'x'", op: OpEq, value: "x"},
		{where: "NOT Name LIKE 'x'", op: OpNe, value: "x"},
		{where: `Name LIKE '50\%%'`, op: OpStartsWith, value: "50%"},
		{where: `Name LIKE '%50\%'`, op: OpEndsWith, value: "50%"},
		{where: `Name LIKE '%O\'Brien%'`, op: OpContains, value: "O'Brien"},
		{where: `Name = 'O\'Brien \\ co'`, op: OpEq, value: `O'Brien \ co`},
		{where: `Industry IN ('A', 'B\'s')`, op: OpIn, values: []string{"A", "B's"}},
		{where: "NOT Industry IN ('A')", op: OpNotIn, values: []string{"A"}},
		{where: "Industry NOT IN ('A', 'B')", op: OpNotIn, values: []string{"A", "B"}},
		{where: "NOT Industry NOT IN ('A')", op: OpIn, values: []string{"A"}},
		{where: "Industry INCLUDES ('A;B', 'C')", op: OpIncludes, values: []string{"A;B", "C"}},
		{where: "NOT Industry INCLUDES ('A')", op: OpExcludes, values: []string{"A"}},
		{where: "Industry EXCLUDES ('A')", op: OpExcludes, values: []string{"A"}},
		{where: "NOT Industry EXCLUDES ('A')", op: OpIncludes, values: []string{"A"}},
		{where: "CreatedDate = LAST_N_DAYS:30", op: OpEq, value: "LAST_N_DAYS:30"},
		{where: "CreatedDate > 2024-01-01T00:00:00Z", op: OpGt, value: "2024-01-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			result := restoreQuery(t, "SELECT Id FROM Account WHERE "+tt.where)
			require.Len(t, result.Where.Rows, 1)
			row := result.Where.Rows[0].Condition
			require.NotNil(t, row)
			assert.Equal(t, tt.op, row.Operator)
			assert.Equal(t, tt.value, row.Value)
			assert.Equal(t, tt.values, row.Values)
			assert.True(t, result.Diagnostics.Empty())
		})
	}
}

func TestFlatten_GroupThenCondition(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE (Name = 'A' AND Industry = 'B') OR Type = 'C'")

	assert.Equal(t, Filter{
		Action: ActionOr,
		Rows: []FilterRow{
			{Group: &GroupRow{Action: ActionAnd, Rows: []ConditionRow{
				{Field: "Name", Operator: OpEq, Value: "A", LiteralType: soql.LiteralString},
				{Field: "Industry", Operator: OpEq, Value: "B", LiteralType: soql.LiteralString},
			}}},
			cond("Type", OpEq, "C", soql.LiteralString),
		},
	}, result.Where)
}

func TestFlatten_ConditionThenGroup(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE Type = 'C' AND (Name = 'A' OR Owner.Name = 'B')")

	assert.Equal(t, ActionAnd, result.Where.Action)
	require.Len(t, result.Where.Rows, 2)
	assert.Equal(t, cond("Type", OpEq, "C", soql.LiteralString), result.Where.Rows[0])
	group := result.Where.Rows[1].Group
	require.NotNil(t, group)
	assert.Equal(t, ActionOr, group.Action)
	assert.Equal(t, []string{"Name", "Owner.Name"}, []string{group.Rows[0].Field, group.Rows[1].Field})
}

func TestFlatten_NegationOnlyAffectsItsCondition(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE NOT Name = 'A' AND Type = 'B'")

	assert.Equal(t, Filter{
		Action: ActionAnd,
		Rows: []FilterRow{
			cond("Name", OpNe, "A", soql.LiteralString),
			cond("Type", OpEq, "B", soql.LiteralString),
		},
	}, result.Where)
}

func TestFlatten_WrappedNegation(t *testing.T) {
	tests := []struct {
		name  string
		where string
		want  Filter
	}{
		{
			name:  "wrapped negation at top level",
			where: "(NOT Name = 'A') OR Type = 'B'",
			want: Filter{Action: ActionOr, Rows: []FilterRow{
				cond("Name", OpNe, "A", soql.LiteralString),
				cond("Type", OpEq, "B", soql.LiteralString),
			}},
		},
		{
			name:  "negation opens a group",
			where: "((NOT Name = 'A') AND Industry = 'B') OR Type = 'C'",
			want: Filter{Action: ActionOr, Rows: []FilterRow{
				{Group: &GroupRow{Action: ActionAnd, Rows: []ConditionRow{
					{Field: "Name", Operator: OpNe, Value: "A", LiteralType: soql.LiteralString},
					{Field: "Industry", Operator: OpEq, Value: "B", LiteralType: soql.LiteralString},
				}}},
				cond("Type", OpEq, "C", soql.LiteralString),
			}},
		},
		{
			name:  "negation closes a group",
			where: "Type = 'C' OR (Industry = 'B' AND (NOT Name = 'A'))",
			want: Filter{Action: ActionOr, Rows: []FilterRow{
				cond("Type", OpEq, "C", soql.LiteralString),
				{Group: &GroupRow{Action: ActionAnd, Rows: []ConditionRow{
					{Field: "Industry", Operator: OpEq, Value: "B", LiteralType: soql.LiteralString},
					{Field: "Name", Operator: OpNe, Value: "A", LiteralType: soql.LiteralString},
				}}},
			}},
		},
		{
			name:  "negated parenthesized condition",
			where: "NOT (Name = 'A') AND Type = 'B'",
			want: Filter{Action: ActionAnd, Rows: []FilterRow{
				cond("Name", OpNe, "A", soql.LiteralString),
				cond("Type", OpEq, "B", soql.LiteralString),
			}},
		},
		{
			name:  "negation inside an unwrapped group",
			where: "(NOT Name = 'A' AND Industry = 'B') OR Type = 'C'",
			want: Filter{Action: ActionOr, Rows: []FilterRow{
				{Group: &GroupRow{Action: ActionAnd, Rows: []ConditionRow{
					{Field: "Name", Operator: OpNe, Value: "A", LiteralType: soql.LiteralString},
					{Field: "Industry", Operator: OpEq, Value: "B", LiteralType: soql.LiteralString},
				}}},
				cond("Type", OpEq, "C", soql.LiteralString),
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := restoreQuery(t, "SELECT Id FROM Account WHERE "+tt.where)
			assert.Equal(t, tt.want, result.Where)
		})
	}
}

func TestFlatten_NestedGroupsAreFlattened(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE ((Name = 'A' OR Name = 'B') AND Industry = 'C') OR Type = 'D'")

	require.Len(t, result.Where.Rows, 2)
	group := result.Where.Rows[0].Group
	require.NotNil(t, group)
	assert.Equal(t, ActionOr, group.Action)
	assert.Len(t, group.Rows, 3)
	assert.Equal(t, cond("Type", OpEq, "D", soql.LiteralString), result.Where.Rows[1])
	assert.Equal(t, ActionOr, result.Where.Action)
}

func TestFlatten_FailedConditionsKeepStructure(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE (Bogus__c = 'x' AND Name = 'A') OR Type = 'B'")

	assert.Equal(t, Filter{
		Action: ActionOr,
		Rows: []FilterRow{
			{Group: &GroupRow{Action: ActionAnd, Rows: []ConditionRow{
				{Field: "Name", Operator: OpEq, Value: "A", LiteralType: soql.LiteralString},
			}}},
			cond("Type", OpEq, "B", soql.LiteralString),
		},
	}, result.Where)
	assert.Equal(t, []string{"WHERE: unknown field Bogus__c"}, result.Diagnostics.MissingMisc)
}

func TestFlatten_EmptyGroupIsDropped(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE (Bogus__c = 'x' OR Nope.Name = 'y') AND Name = 'A'")

	assert.Equal(t, Filter{
		Action: ActionAnd,
		Rows:   []FilterRow{cond("Name", OpEq, "A", soql.LiteralString)},
	}, result.Where)
	assert.Equal(t, []string{"WHERE: unknown field Bogus__c", "WHERE: unknown field Nope.Name"}, result.Diagnostics.MissingMisc)
}

func TestFlatten_UnsupportedShapes(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE Id IN (SELECT AccountId FROM Contact) "+
		"AND CALENDAR_YEAR(CreatedDate) = 2024 AND DISTANCE(Name, 'x') < 10")

	require.Len(t, result.Where.Rows, 1)
	assert.Equal(t, &ConditionRow{
		Field:       "CreatedDate",
		Function:    "CALENDAR_YEAR",
		Operator:    OpEq,
		Value:       "2024",
		LiteralType: soql.LiteralInteger,
	}, result.Where.Rows[0].Condition)
	assert.Equal(t, []string{
		"WHERE: semi-join on Id is not supported",
		"WHERE: unsupported function DISTANCE(Name, 'x')",
	}, result.Diagnostics.MissingMisc)
}

func TestFlatten_LikePatternsWithoutEditorOperator(t *testing.T) {
	for _, pattern := range []string{`'a%b'`, `'a_b'`, `'%a_'`, `'%'`, `'%%'`} {
		t.Run(pattern, func(t *testing.T) {
			result := restoreQuery(t, "SELECT Id FROM Account WHERE Name LIKE "+pattern+" AND Type = 'B'")

			assert.Equal(t, Filter{
				Action: ActionAnd,
				Rows:   []FilterRow{cond("Type", OpEq, "B", soql.LiteralString)},
			}, result.Where)
			assert.Equal(t, []string{"WHERE: LIKE pattern " + pattern + " on Name is not supported"}, result.Diagnostics.MissingMisc)
			assert.Equal(t, "SELECT Id FROM Account WHERE Type = 'B'", ComposeResult(result))
		})
	}

	result := restoreQuery(t, `SELECT Id FROM Account WHERE Name LIKE 'a\_b%'`)
	require.Len(t, result.Where.Rows, 1)
	assert.Equal(t, OpStartsWith, result.Where.Rows[0].Condition.Operator)
	assert.Equal(t, "a_b", result.Where.Rows[0].Condition.Value)
	assert.True(t, result.Diagnostics.Empty())
}

func TestFlatten_RelationshipConditions(t *testing.T) {
	result := restoreQuery(t, "SELECT Id FROM Account WHERE owner.manager.name = 'Ada' OR Parent.Name LIKE 'Acme%'")

	assert.Equal(t, Filter{
		Action: ActionOr,
		Rows: []FilterRow{
			cond("Owner.Manager.Name", OpEq, "Ada", soql.LiteralString),
			cond("Parent.Name", OpStartsWith, "Acme", soql.LiteralString),
		},
	}, result.Where)
	manager, ok := result.MetadataTree.Find("Owner.Manager", "")
	require.True(t, ok)
	assert.Empty(t, manager.Selected, "filters do not select fields")
}
