// Package registry holds the device type taxonomy: a tree of types, each with
// the commands used to identify its children, the rules that score them, and
// the command battery and field extractors used once a device is classified.
//
// A registry is immutable after Load and safe to share between goroutines.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/netman/internal/errors"
)

//go:embed registry.yaml
var defaultRegistry []byte

// TypeID names a device type, e.g. "cisco-iosxe".
type TypeID string

// ScanCommand is one entry in a type's scan battery.
type ScanCommand struct {
	Key     string
	Command string
}

// Extractor pulls a field out of the output stored under Source.
// The first capturing group of Pattern is the value.
type Extractor struct {
	Source  string
	Pattern *regexp.Regexp
}

// Extractors lists, per field, the patterns tried in order.
type Extractors struct {
	Name   []Extractor
	Serial []Extractor
	Model  []Extractor
}

// TypeNode is one type in the taxonomy.
type TypeNode struct {
	ID               TypeID
	Parent           TypeID
	Children         []TypeID
	IdentifyCommands []string
	// MatchRules maps each child to its case-insensitive rules.
	MatchRules   map[TypeID][]*regexp.Regexp
	ScanCommands []ScanCommand
	Extractors   Extractors
}

// IsLeaf reports whether the type has no children.
func (n *TypeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// IsRoot reports whether the type has no parent.
func (n *TypeNode) IsRoot() bool {
	return n.Parent == ""
}

// Registry is a validated type tree.
type Registry struct {
	root  TypeID
	nodes map[TypeID]*TypeNode
	order []TypeID
}

// Document is the on-disk registry format.
type Document struct {
	Types []TypeDef `yaml:"types"`
}

// TypeDef declares one type.
type TypeDef struct {
	ID       string       `yaml:"id"`
	Identify []string     `yaml:"identify,omitempty"`
	Children []ChildDef   `yaml:"children,omitempty"`
	Scan     []ScanDef    `yaml:"scan,omitempty"`
	Extract  *ExtractDefs `yaml:"extract,omitempty"`
}

// ChildDef names a child type and the rules that select it.
type ChildDef struct {
	ID    string   `yaml:"id"`
	Match []string `yaml:"match"`
}

// ScanDef declares one scan command.
type ScanDef struct {
	Key     string `yaml:"key"`
	Command string `yaml:"command"`
}

// ExtractDefs declares the field extractors of a type.
type ExtractDefs struct {
	Name   []ExtractDef `yaml:"name,omitempty"`
	Serial []ExtractDef `yaml:"serial,omitempty"`
	Model  []ExtractDef `yaml:"model,omitempty"`
}

// ExtractDef declares one extraction pattern.
type ExtractDef struct {
	Source  string `yaml:"source"`
	Pattern string `yaml:"pattern"`
}

func invalid(format string, args ...any) error {
	return errors.NewConfigError(errors.CodeRegistryInvalid, fmt.Sprintf(format, args...))
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return Load(defaultRegistry)
}

// LoadFile reads a registry document from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeRegistryInvalid, "failed to read registry file", err)
	}
	return Load(data)
}

// Load parses and validates a YAML registry document.
func Load(data []byte) (*Registry, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapConfigError(errors.CodeRegistryInvalid, "failed to parse registry", err)
	}
	return New(doc.Types)
}

// New builds a registry from type definitions.
func New(defs []TypeDef) (*Registry, error) {
	if len(defs) == 0 {
		return nil, invalid("registry declares no types")
	}

	r := &Registry{nodes: make(map[TypeID]*TypeNode, len(defs))}
	declared := make(map[TypeID]*TypeDef, len(defs))

	for i := range defs {
		def := &defs[i]
		id := TypeID(def.ID)
		if id == "" {
			return nil, invalid("type #%d has no id", i+1)
		}
		if _, dup := r.nodes[id]; dup {
			return nil, invalid("type %s declared twice", id)
		}
		node, err := buildNode(def)
		if err != nil {
			return nil, err
		}
		r.nodes[id] = node
		r.order = append(r.order, id)
		declared[id] = def
	}

	// Children may be declared only as children; give them an empty node.
	for _, id := range append([]TypeID(nil), r.order...) {
		for _, child := range r.nodes[id].Children {
			if _, ok := r.nodes[child]; !ok {
				r.nodes[child] = &TypeNode{ID: child, MatchRules: map[TypeID][]*regexp.Regexp{}}
				r.order = append(r.order, child)
			}
		}
	}

	for _, id := range r.order {
		for _, child := range r.nodes[id].Children {
			c := r.nodes[child]
			if child == id {
				return nil, invalid("type %s lists itself as a child", id)
			}
			if c.Parent != "" {
				return nil, invalid("type %s has two parents: %s and %s", child, c.Parent, id)
			}
			c.Parent = id
		}
	}

	for _, id := range r.order {
		if r.nodes[id].Parent != "" {
			continue
		}
		if r.root != "" {
			return nil, invalid("registry has more than one root: %s and %s", r.root, id)
		}
		r.root = id
	}
	if r.root == "" {
		return nil, invalid("registry has no root type")
	}

	reachable := 0
	r.walk(r.root, func(*TypeNode) { reachable++ })
	if reachable != len(r.nodes) {
		return nil, invalid("registry contains a cycle or unreachable types")
	}

	r.walk(r.root, r.inherit)

	for _, id := range r.order {
		if err := validateExtractors(r.nodes[id]); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func buildNode(def *TypeDef) (*TypeNode, error) {
	id := TypeID(def.ID)
	node := &TypeNode{
		ID:               id,
		IdentifyCommands: append([]string(nil), def.Identify...),
		MatchRules:       make(map[TypeID][]*regexp.Regexp, len(def.Children)),
	}

	if len(def.Children) > 0 && len(def.Identify) == 0 {
		return nil, invalid("type %s has children but no identify commands", id)
	}

	for _, child := range def.Children {
		childID := TypeID(child.ID)
		if childID == "" {
			return nil, invalid("type %s has a child without an id", id)
		}
		if _, dup := node.MatchRules[childID]; dup {
			return nil, invalid("type %s lists child %s twice", id, childID)
		}
		if len(child.Match) == 0 {
			return nil, invalid("child %s of %s has no match rules", childID, id)
		}
		rules := make([]*regexp.Regexp, 0, len(child.Match))
		for _, pattern := range child.Match {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, errors.WrapConfigError(errors.CodeRegistryInvalid,
					fmt.Sprintf("bad match rule for %s: %q", childID, pattern), err)
			}
			rules = append(rules, re)
		}
		node.Children = append(node.Children, childID)
		node.MatchRules[childID] = rules
	}

	seen := make(map[string]bool, len(def.Scan))
	for _, s := range def.Scan {
		if s.Key == "" || s.Command == "" {
			return nil, invalid("type %s has a scan command without key or command", id)
		}
		if seen[s.Key] {
			return nil, invalid("type %s declares scan key %s twice", id, s.Key)
		}
		seen[s.Key] = true
		node.ScanCommands = append(node.ScanCommands, ScanCommand{Key: s.Key, Command: s.Command})
	}

	if def.Extract != nil {
		var err error
		if node.Extractors.Name, err = compileExtractors(id, "name", def.Extract.Name); err != nil {
			return nil, err
		}
		if node.Extractors.Serial, err = compileExtractors(id, "serial", def.Extract.Serial); err != nil {
			return nil, err
		}
		if node.Extractors.Model, err = compileExtractors(id, "model", def.Extract.Model); err != nil {
			return nil, err
		}
	}

	return node, nil
}

func compileExtractors(id TypeID, field string, defs []ExtractDef) ([]Extractor, error) {
	out := make([]Extractor, 0, len(defs))
	for _, d := range defs {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, errors.WrapConfigError(errors.CodeRegistryInvalid,
				fmt.Sprintf("bad %s extractor for %s: %q", field, id, d.Pattern), err)
		}
		if re.NumSubexp() < 1 {
			return nil, invalid("%s extractor for %s has no capture group: %q", field, id, d.Pattern)
		}
		out = append(out, Extractor{Source: d.Source, Pattern: re})
	}
	return out, nil
}

// inherit fills an empty battery or extractor list from the parent, which the
// walk has already resolved.
func (r *Registry) inherit(n *TypeNode) {
	if n.Parent == "" {
		return
	}
	parent := r.nodes[n.Parent]
	if len(n.ScanCommands) == 0 {
		n.ScanCommands = parent.ScanCommands
	}
	if len(n.Extractors.Name) == 0 {
		n.Extractors.Name = parent.Extractors.Name
	}
	if len(n.Extractors.Serial) == 0 {
		n.Extractors.Serial = parent.Extractors.Serial
	}
	if len(n.Extractors.Model) == 0 {
		n.Extractors.Model = parent.Extractors.Model
	}
}

func validateExtractors(n *TypeNode) error {
	keys := make(map[string]bool, len(n.ScanCommands))
	for _, s := range n.ScanCommands {
		keys[s.Key] = true
	}
	for _, list := range [][]Extractor{n.Extractors.Name, n.Extractors.Serial, n.Extractors.Model} {
		for _, e := range list {
			if !keys[e.Source] {
				return invalid("type %s extracts from %q which it never scans", n.ID, e.Source)
			}
		}
	}
	return nil
}

// walk visits id and its descendants depth first, parents before children.
func (r *Registry) walk(id TypeID, fn func(*TypeNode)) {
	visited := make(map[TypeID]bool, len(r.nodes))
	var visit func(TypeID)
	visit = func(id TypeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := r.nodes[id]
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(id)
}

// Root returns the root type.
func (r *Registry) Root() *TypeNode {
	return r.nodes[r.root]
}

// Get returns the type with the given id.
func (r *Registry) Get(id TypeID) (*TypeNode, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Children returns the children of id in declared order.
func (r *Registry) Children(id TypeID) []*TypeNode {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*TypeNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, r.nodes[c])
	}
	return out
}

// IsLeaf reports whether id is a known type without children.
func (r *Registry) IsLeaf(id TypeID) bool {
	n, ok := r.nodes[id]
	return ok && n.IsLeaf()
}

// Types returns every type, parents before children.
func (r *Registry) Types() []*TypeNode {
	out := make([]*TypeNode, 0, len(r.nodes))
	r.walk(r.root, func(n *TypeNode) { out = append(out, n) })
	return out
}

// Path returns the chain of types from the root down to id.
func (r *Registry) Path(id TypeID) []TypeID {
	if _, ok := r.nodes[id]; !ok {
		return nil
	}
	var path []TypeID
	for cur := id; cur != ""; cur = r.nodes[cur].Parent {
		path = append([]TypeID{cur}, path...)
	}
	return path
}

// Resolve returns the node for id, falling back to the root when id is empty
// or unknown.
func (r *Registry) Resolve(id TypeID) *TypeNode {
	if n, ok := r.nodes[id]; ok {
		return n
	}
	return r.Root()
}
