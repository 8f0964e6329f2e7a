// Package schemafile reads entity declarations from YAML or CUE files and
// turns them into schema.Entity values ready for registration.
//
// Both formats share one shape:
//
//	entities:
//	  - name: Book
//	    idPolicy: autoincrement
//	    fields:
//	      title: {type: attr}
//	      authorId: {type: fk, to: Author, as: author, relatedName: books}
//	      genres: {type: many, to: Genre}
package schemafile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ErrNoEntities is returned for a file that declares no entity.
var ErrNoEntities = errors.New("schema file declares no entities")

// File is the decoded form of a schema file.
type File struct {
	Entities []EntityDecl `yaml:"entities" json:"entities"`
}

// EntityDecl declares one entity.
type EntityDecl struct {
	Name        string               `yaml:"name" json:"name"`
	IDAttribute string               `yaml:"idAttribute,omitempty" json:"idAttribute,omitempty"`
	IDPolicy    string               `yaml:"idPolicy,omitempty" json:"idPolicy,omitempty"`
	ArrName     string               `yaml:"arrName,omitempty" json:"arrName,omitempty"`
	MapName     string               `yaml:"mapName,omitempty" json:"mapName,omitempty"`
	Fields      map[string]FieldDecl `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// FieldDecl declares one field. Type is one of attr, fk, oneToOne or many;
// the relation options apply to the relation types only.
type FieldDecl struct {
	Type          string   `yaml:"type" json:"type"`
	Default       any      `yaml:"default,omitempty" json:"default,omitempty"`
	To            string   `yaml:"to,omitempty" json:"to,omitempty"`
	RelatedName   string   `yaml:"relatedName,omitempty" json:"relatedName,omitempty"`
	As            string   `yaml:"as,omitempty" json:"as,omitempty"`
	Through       string   `yaml:"through,omitempty" json:"through,omitempty"`
	ThroughFields []string `yaml:"throughFields,omitempty" json:"throughFields,omitempty"`
}

// Load reads path and returns its entities in declaration order. The format
// follows the extension: .yaml and .yml are YAML, .cue is CUE.
func Load(path string) ([]schema.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	var f *File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err = DecodeYAML(data)
	case ".cue":
		f, err = DecodeCUE(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrSchemaFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding schema %s: %w", path, err)
	}
	return f.Build()
}

// DecodeYAML decodes a YAML schema. Unknown keys are rejected.
func DecodeYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return &f, nil
}

// DecodeCUE compiles a CUE schema and decodes its entities value. filename
// is only used in error positions.
func DecodeCUE(data []byte, filename string) (*File, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling CUE: %w", err)
	}
	var f File
	entities := v.LookupPath(cue.ParsePath("entities"))
	if !entities.Exists() {
		return &f, nil
	}
	if err := entities.Decode(&f.Entities); err != nil {
		return nil, fmt.Errorf("decoding CUE entities: %w", err)
	}
	return &f, nil
}

// Build converts the declarations to schema entities.
func (f *File) Build() ([]schema.Entity, error) {
	if len(f.Entities) == 0 {
		return nil, ErrNoEntities
	}
	out := make([]schema.Entity, 0, len(f.Entities))
	for _, d := range f.Entities {
		e, err := d.Entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Entity converts one declaration.
func (d EntityDecl) Entity() (schema.Entity, error) {
	e := schema.Entity{
		Name:        d.Name,
		IDAttribute: d.IDAttribute,
		IDPolicy:    schema.IDPolicy(d.IDPolicy),
		ArrName:     d.ArrName,
		MapName:     d.MapName,
		Fields:      make(map[string]schema.Field, len(d.Fields)),
	}
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := d.Fields[name].Field()
		if err != nil {
			return schema.Entity{}, &schema.RegistrationError{Entity: d.Name, Field: name, Err: err}
		}
		e.Fields[name] = f
	}
	return e, nil
}

// Field converts one field declaration.
func (d FieldDecl) Field() (schema.Field, error) {
	opts := schema.RelationOpts{
		To:          d.To,
		RelatedName: d.RelatedName,
		As:          d.As,
		Through:     d.Through,
	}
	switch len(d.ThroughFields) {
	case 0:
	case 2:
		opts.ThroughFields = [2]string{d.ThroughFields[0], d.ThroughFields[1]}
	default:
		return nil, fmt.Errorf("%w: throughFields needs exactly two names, got %d", types.ErrInvalidField, len(d.ThroughFields))
	}

	switch d.Type {
	case "", string(schema.KindAttr):
		if d.To != "" {
			return nil, fmt.Errorf("%w: attribute cannot name a target", types.ErrInvalidField)
		}
		if d.Default == nil {
			return schema.Attr(), nil
		}
		def, err := scalarDefault(d.Default)
		if err != nil {
			return nil, err
		}
		return schema.AttrWithDefault(func() any { return def }), nil
	case string(schema.KindFK):
		return schema.FKOpts(opts), nil
	case string(schema.KindOneToOne):
		return schema.OneToOneOpts(opts), nil
	case string(schema.KindMany):
		return schema.ManyOpts(opts), nil
	}
	return nil, fmt.Errorf("%w: unknown field type %q", types.ErrInvalidField, d.Type)
}

// scalarDefault accepts the scalar values a schema file can carry as a
// default. Integers are widened to int64.
func scalarDefault(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64, int64:
		return x, nil
	case int:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return nil, fmt.Errorf("%w: default must be a string, number or bool, got %T", types.ErrInvalidField, v)
}
