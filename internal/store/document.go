package store

import (
	"context"

	"shipline/internal/domain"
)

// DocumentStore loads and saves the whole shipment document from one slot.
type DocumentStore struct {
	Slots Slots
	Key   string
}

// NewDocumentStore binds the document to the default slot key.
func NewDocumentStore(s Slots) DocumentStore {
	return DocumentStore{Slots: s, Key: DocumentKey}
}

func (d DocumentStore) key() string {
	if d.Key == "" {
		return DocumentKey
	}
	return d.Key
}

// Load returns an empty document when nothing has been saved yet.
func (d DocumentStore) Load(ctx context.Context) (domain.Document, error) {
	var doc domain.Document
	if _, err := GetJSON(ctx, d.Slots, d.key(), &doc); err != nil {
		return domain.Document{}, err
	}
	doc.Normalize()
	return doc, nil
}

// Save serialises the document and overwrites the slot.
func (d DocumentStore) Save(ctx context.Context, doc domain.Document) error {
	return PutJSON(ctx, d.Slots, d.key(), doc)
}
