package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Field is a snapshot field a leaf condition may reference
type Field string

const (
	FieldOpen      Field = "open"
	FieldHigh      Field = "high"
	FieldLow       Field = "low"
	FieldClose     Field = "close"
	FieldVolume    Field = "volume"
	FieldAmplitude Field = "amplitude"
	FieldPctChange Field = "pct_change"
)

// Fields lists the whitelisted condition fields
var Fields = []Field{
	FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldAmplitude, FieldPctChange,
}

// IsValid reports whether the field is on the whitelist
func (f Field) IsValid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// Operator is a leaf comparison operator
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpNotEqual     Operator = "!="
)

// IsValid reports whether the operator is supported
func (o Operator) IsValid() bool {
	switch o {
	case OpGreater, OpLess, OpEqual, OpGreaterEqual, OpLessEqual, OpNotEqual:
		return true
	}
	return false
}

// Logic is a branch connective
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
	LogicNot Logic = "NOT"
)

// IsValid reports whether the connective is supported
func (l Logic) IsValid() bool {
	return l == LogicAnd || l == LogicOr || l == LogicNot
}

// Shape is the structural kind of a ConditionNode
type Shape int

const (
	ShapeInvalid Shape = iota // neither leaf nor branch keys
	ShapeLeaf
	ShapeBranch
	ShapeAmbiguous // both leaf and branch keys
)

var (
	leafKeys   = []string{"field", "op", "value"}
	branchKeys = []string{"logic", "conditions"}
)

// ConditionNode is one node of a rule's condition tree. A leaf compares a
// snapshot field against a value; a branch combines child nodes with
// AND, OR or NOT.
//
// Decoding JSON does not enforce the grammar. The decoder records which keys
// were present, which were unknown and which had the wrong JSON type, so the
// validator can report every violation with its path.
type ConditionNode struct {
	Field Field
	Op    Operator
	Value interface{}

	Logic      Logic
	Conditions []*ConditionNode

	present map[string]bool
	unknown []string
	badType []string
}

// Leaf builds a leaf node
func Leaf(field Field, op Operator, value interface{}) *ConditionNode {
	return &ConditionNode{Field: field, Op: op, Value: value}
}

// And builds an AND branch over children
func And(children ...*ConditionNode) *ConditionNode {
	return branch(LogicAnd, children)
}

// Or builds an OR branch over children
func Or(children ...*ConditionNode) *ConditionNode {
	return branch(LogicOr, children)
}

// Not builds a NOT branch over a single child
func Not(child *ConditionNode) *ConditionNode {
	return branch(LogicNot, []*ConditionNode{child})
}

func branch(logic Logic, children []*ConditionNode) *ConditionNode {
	conditions := make([]*ConditionNode, 0, len(children))
	conditions = append(conditions, children...)
	return &ConditionNode{Logic: logic, Conditions: conditions}
}

// Has reports whether the node carries the given key. Nodes built in code
// carry a key when the corresponding field is set.
func (n *ConditionNode) Has(key string) bool {
	if n.present != nil {
		return n.present[key]
	}
	switch key {
	case "field":
		return n.Field != ""
	case "op":
		return n.Op != ""
	case "value":
		return n.Value != nil
	case "logic":
		return n.Logic != ""
	case "conditions":
		return n.Conditions != nil
	}
	return false
}

// Shape classifies the node by the keys it carries
func (n *ConditionNode) Shape() Shape {
	leaf := n.hasAny(leafKeys)
	br := n.hasAny(branchKeys)
	switch {
	case leaf && br:
		return ShapeAmbiguous
	case leaf:
		return ShapeLeaf
	case br:
		return ShapeBranch
	}
	return ShapeInvalid
}

func (n *ConditionNode) hasAny(keys []string) bool {
	for _, k := range keys {
		if n.Has(k) {
			return true
		}
	}
	return false
}

// UnknownKeys returns keys decoded from JSON that are not part of the grammar
func (n *ConditionNode) UnknownKeys() []string {
	return n.unknown
}

// MistypedKeys returns grammar keys whose JSON value had the wrong type
func (n *ConditionNode) MistypedKeys() []string {
	return n.badType
}

// UnmarshalJSON records the node's keys without enforcing the grammar
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition node must be a JSON object: %w", err)
	}

	*n = ConditionNode{present: make(map[string]bool, len(raw))}
	for key, value := range raw {
		n.present[key] = true
		var err error
		switch key {
		case "field":
			err = json.Unmarshal(value, &n.Field)
		case "op":
			err = json.Unmarshal(value, &n.Op)
		case "value":
			err = json.Unmarshal(value, &n.Value)
		case "logic":
			err = json.Unmarshal(value, &n.Logic)
		case "conditions":
			if string(value) == "null" {
				err = fmt.Errorf("null")
				break
			}
			err = json.Unmarshal(value, &n.Conditions)
		default:
			n.unknown = append(n.unknown, key)
			continue
		}
		if err != nil {
			n.badType = append(n.badType, key)
		}
	}
	sort.Strings(n.unknown)
	sort.Strings(n.badType)
	return nil
}

// MarshalJSON writes the node in its leaf or branch shape
func (n *ConditionNode) MarshalJSON() ([]byte, error) {
	if n.Shape() == ShapeLeaf {
		return json.Marshal(struct {
			Field Field       `json:"field"`
			Op    Operator    `json:"op"`
			Value interface{} `json:"value"`
		}{n.Field, n.Op, n.Value})
	}
	conditions := n.Conditions
	if conditions == nil {
		conditions = []*ConditionNode{}
	}
	return json.Marshal(struct {
		Logic      Logic            `json:"logic"`
		Conditions []*ConditionNode `json:"conditions"`
	}{n.Logic, conditions})
}
