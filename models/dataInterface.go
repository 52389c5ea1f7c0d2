package models

// Identifier is implemented by every source entity that can be pushed to the
// search index. The id doubles as the index document id.
type Identifier interface {
	GetId() int
}

func (c Category) GetId() int {
	return c.ID
}

func (p Product) GetId() int {
	return p.ID
}
