// Command docdemo walks through document-store modelling on a hospital staff
// directory: schemaless inserts, nested queries, partial updates and
// aggregation. It runs against the in-memory engine by default and repeats the
// exercise on MongoDB when MONGODB_URI is set.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/corelab-ris/capsync/internal/database"
	"github.com/corelab-ris/capsync/internal/staffdocs"
)

func main() {
	memoryDemo()

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		mongoDemo(uri)
	} else {
		log.Println("MONGODB_URI not set, skipping the MongoDB part")
	}
}

func memoryDemo() {
	log.Println("== in-memory document store ==")
	col := staffdocs.NewMemoryCollection()

	for _, doc := range seedDocs() {
		id := col.Insert(doc)
		log.Printf("inserted %s as %s", doc["name"], id)
	}

	// nested query through a subdocument
	if doc, ok := col.FindOne(staffdocs.Doc{"contact.email": "schen@example.org"}); ok {
		log.Printf("found by email: %s", doc["name"])
	}

	// array membership: a scalar matches any element
	for _, doc := range col.Find(staffdocs.Doc{"specialties": "cardiology"}) {
		log.Printf("cardiology specialist: %s", doc["name"])
	}

	// dotted path into an array of subdocuments
	for _, doc := range col.Find(staffdocs.Doc{"certifications.name": "ACLS"}) {
		log.Printf("ACLS certified: %s", doc["name"])
	}

	// partial update: $set with a dotted path, then $push onto an array
	col.Update(
		staffdocs.Doc{"name": "Marcus Webb"},
		staffdocs.Doc{"$set": staffdocs.Doc{"contact.phone": "555-0199"}},
	)
	col.Update(
		staffdocs.Doc{"name": "Marcus Webb"},
		staffdocs.Doc{"$push": staffdocs.Doc{"certifications": staffdocs.Doc{"name": "CCRN", "year": 2024}}},
	)

	log.Printf("staff per role: %v", col.CountBy("role"))

	n := col.Delete(staffdocs.Doc{"active": false})
	log.Printf("removed %d inactive staff, %d remain", n, col.Count(staffdocs.Doc{}))
}

func mongoDemo(uri string) {
	log.Println("== MongoDB ==")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	if err != nil {
		log.Printf("warning: cannot connect to MongoDB (%v), skipping", err)
		return
	}
	defer client.Disconnect(ctx)

	dbName := os.Getenv("MONGODB_DATABASE")
	if dbName == "" {
		dbName = "staffdocs_demo"
	}
	repo := staffdocs.NewRepository(client.Database(dbName))

	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("indexes: %v", err)
	}

	// start clean so repeated runs behave the same
	if _, err := repo.Delete(ctx, bson.M{}); err != nil {
		log.Fatalf("cleanup: %v", err)
	}

	for _, doc := range seedDocs() {
		id, err := repo.Insert(ctx, toBSON(doc))
		if err != nil {
			log.Fatalf("insert: %v", err)
		}
		log.Printf("inserted %s as %s", doc["name"], id)
	}

	docs, err := repo.Find(ctx, bson.M{"contact.email": "schen@example.org"})
	if err != nil {
		log.Fatalf("find: %v", err)
	}
	for _, d := range docs {
		log.Printf("found by email: %v", d["name"])
	}

	if _, err := repo.UpdateOne(ctx,
		bson.M{"name": "Marcus Webb"},
		bson.M{"$push": bson.M{"certifications": bson.M{"name": "CCRN", "year": 2024}}},
	); err != nil {
		log.Fatalf("update: %v", err)
	}

	counts, err := repo.CountByRole(ctx)
	if err != nil {
		log.Fatalf("aggregate: %v", err)
	}
	log.Printf("staff per role: %v", counts)

	avg, err := repo.AverageCertificationYear(ctx)
	if err != nil {
		log.Fatalf("aggregate: %v", err)
	}
	log.Printf("mean certification year of active staff per role: %v", avg)

	hits, err := repo.SearchText(ctx, "cardiology")
	if err != nil {
		log.Fatalf("text search: %v", err)
	}
	for _, d := range hits {
		log.Printf("text search hit: %v", d["name"])
	}
}

func seedDocs() []staffdocs.Doc {
	return []staffdocs.Doc{
		{
			"name":        "Dr. Sarah Chen",
			"role":        "physician",
			"specialties": []interface{}{"cardiology", "internal medicine"},
			"contact":     staffdocs.Doc{"email": "schen@example.org", "phone": "555-0101"},
			"certifications": []interface{}{
				staffdocs.Doc{"name": "ABIM", "year": 2015},
				staffdocs.Doc{"name": "ACLS", "year": 2022},
			},
			"active": true,
		},
		{
			"name":        "Marcus Webb",
			"role":        "nurse",
			"specialties": []interface{}{"icu"},
			"contact":     staffdocs.Doc{"email": "mwebb@example.org", "phone": "555-0102"},
			"certifications": []interface{}{
				staffdocs.Doc{"name": "ACLS", "year": 2023},
			},
			"active": true,
		},
		{
			"name":   "Dana Ortiz",
			"role":   "physician",
			"active": false,
		},
	}
}

// toBSON converts a demo document into the driver's map type.
func toBSON(d staffdocs.Doc) bson.M {
	out := bson.M{}
	for k, v := range d {
		out[k] = toBSONValue(v)
	}
	return out
}

func toBSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case staffdocs.Doc:
		return toBSON(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = toBSONValue(elem)
		}
		return out
	}
	return v
}
