package storage

import (
	"context"
	"fmt"

	"github.com/MLenaBleile/sandy/internal/corpus"
)

// loadPageSize bounds the records held in memory while reloading.
const loadPageSize = 500

// LoadCorpus registers every persisted record and ingredient with c. It is
// meant for an empty corpus at process start.
func LoadCorpus(ctx context.Context, store Storage, c *corpus.Corpus) (records, ingredients int, err error) {
	for offset := 0; ; offset += loadPageSize {
		page, err := store.ListRecords(ctx, ListQuery{Offset: offset, Limit: loadPageSize})
		if err != nil {
			return records, ingredients, fmt.Errorf("list records at %d: %w", offset, err)
		}
		for _, rec := range page {
			if len(rec.Embeddings.Full) == 0 {
				continue
			}
			if err := c.AddSandwich(rec.ID, rec.Embeddings.Full, rec.Assembled.StructureType); err != nil {
				return records, ingredients, err
			}
			records++
		}
		if len(page) < loadPageSize {
			break
		}
	}

	ings, err := store.ListIngredients(ctx)
	if err != nil {
		return records, ingredients, fmt.Errorf("list ingredients: %w", err)
	}
	for _, ing := range ings {
		if err := c.AddIngredient(ing); err != nil {
			return records, ingredients, err
		}
		ingredients++
	}
	return records, ingredients, nil
}
