package staffdocs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCollection() *MemoryCollection {
	c := NewMemoryCollection()
	c.Insert(Doc{
		"name":        "Dr. Sarah Chen",
		"role":        "physician",
		"specialties": []interface{}{"cardiology", "internal medicine"},
		"contact":     Doc{"email": "schen@example.org", "phone": "555-0101"},
		"certifications": []interface{}{
			Doc{"name": "ABIM", "year": 2015},
			Doc{"name": "ACLS", "year": 2022},
		},
		"active": true,
	})
	c.Insert(Doc{
		"name":        "Marcus Webb",
		"role":        "nurse",
		"specialties": []interface{}{"icu"},
		"contact":     Doc{"email": "mwebb@example.org", "phone": "555-0102"},
		"active":      true,
	})
	c.Insert(Doc{
		"name":   "Dana Ortiz",
		"role":   "physician",
		"active": false,
	})
	return c
}

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	c := NewMemoryCollection()
	id := c.Insert(Doc{"name": "x"})
	require.NotEmpty(t, id)

	doc, ok := c.FindOne(Doc{"_id": id})
	require.True(t, ok)
	assert.Equal(t, "x", doc["name"])
	assert.Contains(t, doc, "_created_at")
}

func TestFindNestedPaths(t *testing.T) {
	c := seedCollection()

	byEmail := c.Find(Doc{"contact.email": "schen@example.org"})
	require.Len(t, byEmail, 1)
	assert.Equal(t, "Dr. Sarah Chen", byEmail[0]["name"])

	// array membership: a scalar matches any element
	cardio := c.Find(Doc{"specialties": "cardiology"})
	require.Len(t, cardio, 1)

	// dotted path through an array of subdocuments
	abim := c.Find(Doc{"certifications.name": "ABIM"})
	require.Len(t, abim, 1)

	active := c.Find(Doc{"role": "physician", "active": true})
	require.Len(t, active, 1)
}

func TestUpdateSetAndPush(t *testing.T) {
	c := seedCollection()

	n := c.Update(
		Doc{"name": "Marcus Webb"},
		Doc{"$set": Doc{"contact.phone": "555-0199", "active": false}},
	)
	assert.Equal(t, 1, n)

	doc, ok := c.FindOne(Doc{"name": "Marcus Webb"})
	require.True(t, ok)
	phone, _ := lookupPath(doc, "contact.phone")
	assert.Equal(t, "555-0199", phone)
	assert.Equal(t, false, doc["active"])

	n = c.Update(
		Doc{"name": "Marcus Webb"},
		Doc{"$push": Doc{"certifications": Doc{"name": "CCRN", "year": 2024}}},
	)
	assert.Equal(t, 1, n)
	withCert := c.Find(Doc{"certifications.name": "CCRN"})
	require.Len(t, withCert, 1)
}

func TestDelete(t *testing.T) {
	c := seedCollection()
	assert.Equal(t, 1, c.Delete(Doc{"active": false}))
	assert.Equal(t, 2, c.Count(Doc{}))
	assert.Equal(t, 0, c.Delete(Doc{"role": "janitor"}))
}

func TestCountByRole(t *testing.T) {
	c := seedCollection()
	counts := c.CountBy("role")
	assert.Equal(t, map[string]int{"physician": 2, "nurse": 1}, counts)
}

func TestFindReturnsCopies(t *testing.T) {
	c := seedCollection()
	doc, ok := c.FindOne(Doc{"name": "Marcus Webb"})
	require.True(t, ok)
	doc["role"] = "tampered"

	fresh, ok := c.FindOne(Doc{"name": "Marcus Webb"})
	require.True(t, ok)
	assert.Equal(t, "nurse", fresh["role"])
}
