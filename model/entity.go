// model/entity.go
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// QualifiedNameAttr is the attribute holding an entity's unique qualified name.
const QualifiedNameAttr = "qualifiedName"

// Synthetic attribute names resolved from classifications rather than the
// entity's attribute bag.
const (
	TraitNamesAttr           = "__traitNames"
	PropagatedTraitNamesAttr = "__propagatedTraitNames"
	GuidAttr                 = "__guid"
	TypeNameAttr             = "__typeName"
)

type attrKind int

const (
	attrAbsent attrKind = iota
	attrString
	attrStringList
	attrBool
	attrNumber
)

// AttributeValue is a typed view over an entity's untyped attribute bag:
// string, string list, bool, number, or absent. Coercion to a string set
// happens exactly once, at the evaluator boundary, via Strings.
type AttributeValue struct {
	kind attrKind
	str  string
	list []string
	b    bool
	num  float64
}

func StringValue(s string) AttributeValue {
	return AttributeValue{kind: attrString, str: s}
}

func StringListValue(values ...string) AttributeValue {
	return AttributeValue{kind: attrStringList, list: values}
}

func BoolValue(b bool) AttributeValue {
	return AttributeValue{kind: attrBool, b: b}
}

func NumberValue(n float64) AttributeValue {
	return AttributeValue{kind: attrNumber, num: n}
}

func AbsentValue() AttributeValue {
	return AttributeValue{kind: attrAbsent}
}

// IsAbsent reports whether the attribute was missing on the entity.
func (v AttributeValue) IsAbsent() bool {
	return v.kind == attrAbsent
}

// Strings coerces the value to its string representations. Absent values
// coerce to an empty set.
func (v AttributeValue) Strings() []string {
	switch v.kind {
	case attrString:
		return []string{v.str}
	case attrStringList:
		return v.list
	case attrBool:
		return []string{strconv.FormatBool(v.b)}
	case attrNumber:
		return []string{FormatNumber(v.num)}
	default:
		return nil
	}
}

// FormatNumber renders a numeric attribute the same way everywhere values are
// compared as strings: no exponent, no trailing zeros.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Classification is a tag carried by an entity. EntityID identifies the
// entity the tag was directly assigned to; a classification whose EntityID
// differs from the carrying entity's ID was propagated down the lineage.
type Classification struct {
	TypeName string `json:"typeName"`
	EntityID string `json:"entityId,omitempty"`
}

// Entity is a fully materialized metadata entity (or the header of one, for
// relationship ends). Attributes is the typed attribute bag; the evaluator
// falls back to the vertex store for attributes absent here.
type Entity struct {
	ID              string                    `json:"guid"`
	TypeName        string                    `json:"typeName"`
	Attributes      map[string]AttributeValue `json:"-"`
	Classifications []Classification          `json:"classifications,omitempty"`
}

// UnmarshalJSON decodes the wire shape of an entity, coercing the untyped
// attribute bag into typed AttributeValues at the boundary.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              string                 `json:"guid"`
		TypeName        string                 `json:"typeName"`
		Attributes      map[string]interface{} `json:"attributes"`
		Classifications []Classification       `json:"classifications"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.TypeName = raw.TypeName
	e.Classifications = raw.Classifications
	e.Attributes = nil
	if len(raw.Attributes) > 0 {
		e.Attributes = make(map[string]AttributeValue, len(raw.Attributes))
		for name, value := range raw.Attributes {
			e.Attributes[name] = attributeValueOf(value)
		}
	}
	return nil
}

func attributeValueOf(value interface{}) AttributeValue {
	switch v := value.(type) {
	case string:
		return StringValue(v)
	case bool:
		return BoolValue(v)
	case float64:
		return NumberValue(v)
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			list = append(list, fmt.Sprintf("%v", item))
		}
		return StringListValue(list...)
	case nil:
		return AbsentValue()
	default:
		return StringValue(fmt.Sprintf("%v", v))
	}
}

// Attribute returns the typed value for name, or an absent value.
func (e *Entity) Attribute(name string) AttributeValue {
	if e.Attributes == nil {
		return AbsentValue()
	}
	v, ok := e.Attributes[name]
	if !ok {
		return AbsentValue()
	}
	return v
}

// QualifiedName returns the entity's qualified name, or "" when unset.
func (e *Entity) QualifiedName() string {
	values := e.Attribute(QualifiedNameAttr).Strings()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// DirectTraitNames returns the type names of classifications assigned
// directly to this entity.
func (e *Entity) DirectTraitNames() []string {
	var names []string
	for _, c := range e.Classifications {
		if c.EntityID == "" || c.EntityID == e.ID {
			names = append(names, c.TypeName)
		}
	}
	return names
}

// PropagatedTraitNames returns the type names of classifications propagated
// onto this entity from another one.
func (e *Entity) PropagatedTraitNames() []string {
	var names []string
	for _, c := range e.Classifications {
		if c.EntityID != "" && c.EntityID != e.ID {
			names = append(names, c.TypeName)
		}
	}
	return names
}
