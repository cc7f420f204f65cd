package describe

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Objects []fixtureObject `yaml:"objects"`
}

type fixtureObject struct {
	Object    `yaml:",inline"`
	Queryable *bool `yaml:"queryable"`
}

// FileTransport serves describes from a YAML fixture:
//
//	objects:
//	  - name: Account
//	    fields:
//	      - {name: Id, type: id}
//	      - {name: OwnerId, type: reference, relationshipName: Owner, referenceTo: [User]}
//	    childRelationships:
//	      - {relationshipName: Contacts, childObject: Contact, field: AccountId}
type FileTransport struct {
	summaries []ObjectSummary
	objects   map[string]*Object
}

// LoadFileTransport reads a fixture from path.
func LoadFileTransport(path string) (*FileTransport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open describe fixture: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	t, err := NewFileTransport(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// NewFileTransport decodes a fixture from r.
func NewFileTransport(r io.Reader) (*FileTransport, error) {
	var file fixtureFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode describe fixture: %w", err)
	}

	t := &FileTransport{objects: make(map[string]*Object, len(file.Objects))}
	for i, entry := range file.Objects {
		if strings.TrimSpace(entry.Name) == "" {
			return nil, fmt.Errorf("describe fixture: object %d has no name", i)
		}
		key := strings.ToLower(entry.Name)
		if _, exists := t.objects[key]; exists {
			return nil, fmt.Errorf("describe fixture: duplicate object %q", entry.Name)
		}
		for j, field := range entry.Fields {
			if strings.TrimSpace(field.Name) == "" {
				return nil, fmt.Errorf("describe fixture: %s field %d has no name", entry.Name, j)
			}
		}

		obj := entry.Object
		if obj.Label == "" {
			obj.Label = obj.Name
		}
		t.objects[key] = &obj
		t.summaries = append(t.summaries, ObjectSummary{
			Name:      obj.Name,
			Label:     obj.Label,
			Queryable: entry.Queryable == nil || *entry.Queryable,
		})
	}
	return t, nil
}

func (t *FileTransport) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.summaries, nil
}

func (t *FileTransport) DescribeObject(ctx context.Context, name string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, ok := t.objects[strings.ToLower(name)]
	if !ok {
		return nil, NotFound(name)
	}
	return obj, nil
}
