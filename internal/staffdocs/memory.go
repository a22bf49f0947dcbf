// Package staffdocs demonstrates document-store modelling on a hospital staff
// directory: schemaless documents, nested queries, partial updates and
// aggregation. A small in-memory engine mirrors the MongoDB surface so the
// concepts can be shown without a running server.
package staffdocs

import (
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Doc is one schemaless document. Staff documents carry name, role,
// specialties, contact {email, phone}, certifications [{name, year}] and
// active, but nothing enforces that shape.
type Doc map[string]interface{}

// MemoryCollection is a minimal in-memory document collection.
type MemoryCollection struct {
	mu   sync.RWMutex
	docs map[string]Doc
}

func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{docs: map[string]Doc{}}
}

// Insert stores a copy of doc, assigning _id and _created_at, and returns the
// new id.
func (c *MemoryCollection) Insert(doc Doc) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := cloneDoc(doc)
	id := primitive.NewObjectID().Hex()
	stored["_id"] = id
	if _, ok := stored["_created_at"]; !ok {
		stored["_created_at"] = time.Now().UTC()
	}
	c.docs[id] = stored
	return id
}

// Find returns every document matching the query. Keys may use dotted paths
// ("contact.email", "certifications.name"); a non-slice query value matches a
// stored array when any element equals it.
func (c *MemoryCollection) Find(query Doc) []Doc {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Doc
	for _, d := range c.docs {
		if matches(d, query) {
			out = append(out, cloneDoc(d))
		}
	}
	return out
}

// FindOne returns the first match, if any.
func (c *MemoryCollection) FindOne(query Doc) (Doc, bool) {
	results := c.Find(query)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// Update applies an update document with $set (dotted paths allowed) and
// $push operators to every match, returning the number of documents updated.
func (c *MemoryCollection) Update(query, update Doc) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, d := range c.docs {
		if !matches(d, query) {
			continue
		}
		if set, ok := asDoc(update["$set"]); ok {
			for path, v := range set {
				setPath(d, path, v)
			}
		}
		if push, ok := asDoc(update["$push"]); ok {
			// $push targets top-level array fields only
			for path, v := range push {
				arr, _ := d[path].([]interface{})
				d[path] = append(arr, v)
			}
		}
		n++
	}
	return n
}

// Delete removes every matching document and returns the count.
func (c *MemoryCollection) Delete(query Doc) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, d := range c.docs {
		if matches(d, query) {
			delete(c.docs, id)
			n++
		}
	}
	return n
}

// Count returns the number of matching documents.
func (c *MemoryCollection) Count(query Doc) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, d := range c.docs {
		if matches(d, query) {
			n++
		}
	}
	return n
}

// CountBy groups documents by a field value, the in-memory analogue of a
// $group/$sum pipeline.
func (c *MemoryCollection) CountBy(field string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := map[string]int{}
	for _, d := range c.docs {
		if v, ok := lookupPath(d, field); ok {
			if s, ok := v.(string); ok {
				out[s]++
			}
		}
	}
	return out
}

func asDoc(v interface{}) (Doc, bool) {
	switch t := v.(type) {
	case Doc:
		return t, true
	case map[string]interface{}:
		return Doc(t), true
	}
	return nil, false
}

func matches(d Doc, query Doc) bool {
	for path, want := range query {
		got, ok := lookupPath(d, path)
		if !ok || !valueMatches(got, want) {
			return false
		}
	}
	return true
}

// valueMatches compares a stored value against a query value. A stored array
// matches when any element does.
func valueMatches(got, want interface{}) bool {
	if arr, ok := got.([]interface{}); ok {
		for _, elem := range arr {
			if valueMatches(elem, want) {
				return true
			}
		}
		return false
	}
	return got == want
}

// lookupPath walks a dotted path through nested maps. Arrays along the way
// collect the values of every element that carries the remaining path.
func lookupPath(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, true
	}
	head := path
	rest := ""
	if i := strings.IndexByte(path, '.'); i >= 0 {
		head, rest = path[:i], path[i+1:]
	}

	switch t := v.(type) {
	case Doc:
		child, ok := t[head]
		if !ok {
			return nil, false
		}
		return lookupPath(child, rest)
	case map[string]interface{}:
		child, ok := t[head]
		if !ok {
			return nil, false
		}
		return lookupPath(child, rest)
	case []interface{}:
		var collected []interface{}
		for _, elem := range t {
			if got, ok := lookupPath(elem, path); ok {
				collected = append(collected, got)
			}
		}
		if len(collected) == 0 {
			return nil, false
		}
		return collected, true
	}
	return nil, false
}

// setPath writes a value at a dotted path, creating intermediate maps.
func setPath(d Doc, path string, v interface{}) {
	head := path
	rest := ""
	if i := strings.IndexByte(path, '.'); i >= 0 {
		head, rest = path[:i], path[i+1:]
	}
	if rest == "" {
		d[head] = v
		return
	}
	switch child := d[head].(type) {
	case Doc:
		setPath(child, rest, v)
	case map[string]interface{}:
		setPath(Doc(child), rest, v)
	default:
		fresh := Doc{}
		d[head] = fresh
		setPath(fresh, rest, v)
	}
}

func cloneDoc(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Doc:
		return cloneDoc(t)
	case map[string]interface{}:
		return map[string]interface{}(cloneDoc(Doc(t)))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = cloneValue(elem)
		}
		return out
	}
	return v
}
