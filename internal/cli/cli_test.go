package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soqlrestore/internal/restore"
	"soqlrestore/internal/soql"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand("1.0.0", "abc")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("dev", "none")
	require.NotNil(t, cmd)
	assert.Equal(t, "soqlrestore", cmd.Use)

	for _, name := range []string{"restore", "compose", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	noColor := cmd.PersistentFlags().Lookup("no-color")
	require.NotNil(t, noColor)
	assert.Equal(t, "false", noColor.DefValue)
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "soqlrestore 1.0.0 (abc)\n", stdout)
}

func TestComposeCommand(t *testing.T) {
	stdout, _, err := execute(t, "", "compose", "select id,name from Account where name = 'x'")
	require.NoError(t, err)

	query, err := soql.Parse("select id,name from Account where name = 'x'")
	require.NoError(t, err)
	assert.Equal(t, soql.Compose(query)+"\n", stdout)
}

func TestComposeCommand_Stdin(t *testing.T) {
	stdout, _, err := execute(t, "SELECT Id FROM Account\n", "compose", "-f", "-")
	require.NoError(t, err)
	assert.Equal(t, "SELECT Id FROM Account\n", stdout)
}

func TestComposeCommand_SyntaxError(t *testing.T) {
	_, _, err := execute(t, "", "compose", "SELECT FROM WHERE")
	var syntaxErr *soql.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestRestoreCommand_Schema(t *testing.T) {
	stdout, stderr, err := execute(t, "",
		"restore", "--no-color", "--schema", "testdata/org.yaml",
		"SELECT Id, Owner.Name, Bogus, (SELECT LastName FROM Contacts) FROM Account WHERE Name = 'Acme'")
	require.NoError(t, err)

	var out struct {
		RootObject string                     `json:"rootObject"`
		Composed   string                     `json:"composed"`
		Subqueries map[string]json.RawMessage `json:"subqueries"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "Account", out.RootObject)
	assert.Contains(t, out.Composed, "(SELECT LastName FROM Contacts)")
	assert.Contains(t, out.Subqueries, "Contacts")
	assert.Contains(t, stdout, "\n  \"rootObject\"")

	assert.Contains(t, stderr, "Account: 2 fields selected, 1 row in WHERE")
	assert.Contains(t, stderr, "fields not restored:\n  - Bogus\n")
}

func TestRestoreCommand_QueryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.soql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT Id FROM Account"), 0o600))

	stdout, stderr, err := execute(t, "", "restore", "--no-color", "--compact", "--schema", "testdata/org.yaml", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(stdout), "\n")+1)
	assert.Contains(t, stderr, "restored without diagnostics")
}

func TestRestoreCommand_UnknownObject(t *testing.T) {
	_, _, err := execute(t, "", "restore", "--schema", "testdata/org.yaml", "SELECT Id FROM Widget")
	require.Error(t, err)
	assert.ErrorIs(t, err, restore.ErrUserFacing)
}

func TestRestoreCommand_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no source", args: []string{"restore", "SELECT Id FROM Account"}, want: "one of --schema or --rest-url is required"},
		{name: "two sources", args: []string{"restore", "--schema", "x.yaml", "--rest-url", "https://x", "SELECT Id FROM Account"}, want: "use either --schema or --rest-url"},
		{name: "no query", args: []string{"restore", "--schema", "testdata/org.yaml"}, want: "a query is required"},
		{name: "query twice", args: []string{"restore", "--schema", "testdata/org.yaml", "-f", "q.soql", "SELECT Id FROM Account"}, want: "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRestoreCommand_REST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/services/data/v59.0/sobjects/":
			_, _ = w.Write([]byte(`{"sobjects":[{"name":"Account","label":"Account","queryable":true}]}`))
		case "/services/data/v59.0/sobjects/Account/describe/":
			_, _ = w.Write([]byte(`{"name":"Account","label":"Account","fields":[{"name":"Id","type":"id"},{"name":"Name","type":"string"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Setenv(tokenEnv, "tok")
	stdout, _, err := execute(t, "", "restore", "--rest-url", server.URL, "SELECT Id, Name FROM Account")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"composed": "SELECT Id, Name FROM Account"`)
}

func TestRestoreCommand_RESTRequiresToken(t *testing.T) {
	t.Setenv(tokenEnv, "")
	_, _, err := execute(t, "", "restore", "--rest-url", "https://example.my.salesforce.com", "SELECT Id FROM Account")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token")
}

func TestPrintDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	printDiagnostics(&buf, restore.Diagnostics{
		MissingFields:         []string{"Bogus"},
		MissingSubqueryFields: map[string][]string{"Notes": {"Body"}, "Contacts": {"Nope"}},
		MissingMisc:           []string{"COUNT()"},
	}, true)

	assert.Equal(t, "fields not restored:\n  - Bogus\n"+
		"sub-select Contacts fields not restored:\n  - Nope\n"+
		"sub-select Notes fields not restored:\n  - Body\n"+
		"not restored:\n  - COUNT()\n", buf.String())
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("boom"), true)
	assert.Equal(t, "error: boom\n", buf.String())
}

func TestNoColorRequested(t *testing.T) {
	assert.True(t, NoColorRequested([]string{"restore", "--no-color"}))
	assert.False(t, NoColorRequested([]string{"restore"}))
}
