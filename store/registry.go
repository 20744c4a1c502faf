package store

// Relationship links a parent type to the children listed in one of its attributes.
// When a parent is soft-deleted the stream handler soft-deletes every child
// whose id appears in the parent's BackRefAttr list.
type Relationship struct {
	ParentType     string // "user"
	ChildType      string // "place"
	ChildTableName string

	// ChildKeyAttr is the child's hash key. Default: "id".
	ChildKeyAttr string

	// BackRefAttr is the parent's list of child ids, e.g. "places".
	BackRefAttr string
}

// ChildKey is the primary key of the child with the given id.
func (rel Relationship) ChildKey(id string) PK {
	return PK{rel.ChildKeyAttr: stringAttr(id)}
}

// Registry indexes relationships by parent type. It is filled at startup and
// read-only afterwards.
type Registry struct {
	all      []Relationship
	byParent map[string][]Relationship
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{all: []Relationship{}, byParent: map[string][]Relationship{}}
}

// Register adds rel.
func (r *Registry) Register(rel Relationship) {
	if rel.ChildKeyAttr == "" {
		rel.ChildKeyAttr = "id"
	}
	r.all = append(r.all, rel)
	r.byParent[rel.ParentType] = append(r.byParent[rel.ParentType], rel)
}

// ChildrenOf returns the relationships whose parent is parentType.
func (r *Registry) ChildrenOf(parentType string) []Relationship {
	return r.byParent[parentType]
}

// AllRelationships returns every registered relationship in registration order.
func (r *Registry) AllRelationships() []Relationship {
	return r.all
}

// HasChildren reports whether parentType has any registered children.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.byParent[parentType]) > 0
}
