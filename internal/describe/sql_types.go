package describe

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// sqlFieldType maps an INFORMATION_SCHEMA data type to a field type.
// columnType carries the full declaration and distinguishes TINYINT(1).
func sqlFieldType(dataType, columnType string) FieldType {
	base := dataType
	if idx := strings.Index(base, "("); idx != -1 {
		base = base[:idx]
	}
	switch strings.ToUpper(strings.TrimSpace(base)) {
	case "TINYINT":
		if strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
			return TypeBoolean
		}
		return TypeInt
	case "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "SERIAL", "YEAR":
		return TypeInt
	case "BIT", "BOOL", "BOOLEAN":
		return TypeBoolean
	case "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC":
		return TypeDouble
	case "DATE":
		return TypeDate
	case "DATETIME", "TIMESTAMP":
		return TypeDateTime
	case "TIME":
		return TypeTime
	case "ENUM":
		return TypePicklist
	case "SET":
		return TypeMultiPicklist
	case "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "JSON":
		return TypeTextArea
	default:
		return TypeString
	}
}

// relationshipName derives the parent relationship name of a foreign key
// column: "owner_id" -> "Owner", "created_by_user_fk" -> "CreatedByUser".
func relationshipName(fkColumn string) string {
	return toPascalCase(stripKeySuffix(fkColumn))
}

// childRelationshipName names the child relationship for a foreign key on
// childTable. When the child table has several keys to the same parent the
// column disambiguates: "comments" -> "Comments", or "AuthorComments".
func childRelationshipName(childTable, fkColumn string, onlyKey bool) string {
	plural := inflection.Plural(toPascalCase(childTable))
	if onlyKey {
		return plural
	}
	return relationshipName(fkColumn) + plural
}

func stripKeySuffix(column string) string {
	for _, suffix := range []string{"_id", "_fk"} {
		if len(column) > len(suffix) && strings.HasSuffix(strings.ToLower(column), suffix) {
			return column[:len(column)-len(suffix)]
		}
	}
	return column
}

func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
