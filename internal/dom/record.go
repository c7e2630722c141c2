package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// RecordType is the category of a change.
type RecordType int

const (
	ChildList RecordType = iota + 1
	CharacterData
	Attributes
)

func (t RecordType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case CharacterData:
		return "characterData"
	case Attributes:
		return "attributes"
	default:
		return fmt.Sprintf("RecordType(%d)", int(t))
	}
}

// Record describes a single change to the tree.
type Record struct {
	Type   RecordType
	Target *html.Node

	Added   []*html.Node
	Removed []*html.Node

	AttributeName string
	OldValue      string
}

// Touches reports whether the record added or removed a node matching fn.
func (r Record) Touches(fn func(*html.Node) bool) bool {
	for _, n := range r.Added {
		if fn(n) {
			return true
		}
	}
	for _, n := range r.Removed {
		if fn(n) {
			return true
		}
	}
	return false
}
