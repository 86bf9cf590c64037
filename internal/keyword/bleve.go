package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/MLenaBleile/sandy/internal/models"
)

// Indexed fields.
const (
	fieldName          = "name"
	fieldIngredients   = "ingredients"
	fieldBody          = "body"
	fieldStructureType = "structure_type"
)

var textFields = []string{fieldName, fieldIngredients, fieldBody}

// ingredientsBoost weights anchor and filling matches above prose matches.
const ingredientsBoost = 1.5

// BleveIndex implements RecordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory and reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so anchor names match as written.
	textFieldMapping.Analyzer = standard.Name
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	docMapping.AddFieldMappingsAt(fieldStructureType, bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func recordDoc(rec *models.StoredRecord) map[string]any {
	a := rec.Assembled
	return map[string]any{
		fieldName:          a.Name,
		fieldIngredients:   strings.Join([]string{a.AnchorA, a.AnchorB, a.Filling}, " "),
		fieldBody:          strings.Join([]string{a.Description, a.ContainmentArgument, a.Commentary}, "\n"),
		fieldStructureType: a.StructureType,
	}
}

// Index indexes a record by its id, replacing any previous version.
func (b *BleveIndex) Index(_ context.Context, rec *models.StoredRecord) error {
	return b.index.Index(rec.ID, recordDoc(rec))
}

// Search returns up to limit records matching query, best first. Name and
// ingredient matches are boosted, and for multi-term queries records that
// match only some of the terms are penalized.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	nameBoost := 2.0
	fuzzy := false
	fuzziness := 1
	structureType := ""
	if opts != nil {
		if opts.NameBoost > 0 {
			nameBoost = opts.NameBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		structureType = opts.StructureType
	}

	boosts := map[string]float64{fieldName: nameBoost, fieldIngredients: ingredientsBoost, fieldBody: 1}
	fieldQueries := make([]blevequery.Query, 0, len(textFields))
	for _, f := range textFields {
		q := b.fieldQuery(query, terms, f, fuzzy, fuzziness)
		if bq, ok := q.(blevequery.BoostableQuery); ok && boosts[f] != 1 {
			bq.SetBoost(boosts[f])
		}
		fieldQueries = append(fieldQueries, q)
	}
	q := b.restrict(bleve.NewDisjunctionQuery(fieldQueries...), structureType)

	// Request enough so the top "limit" survives the coverage penalty.
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	req := bleve.NewSearchRequest(q)
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, fuzzy, fuzziness, structureType)
	}

	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		score := hit.Score
		if len(terms) > 1 {
			// (matched/total)^2 ranks records matching every term above partial matches.
			matched := coverage[hit.ID]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		out = append(out, &Result{ID: hit.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BleveIndex) restrict(q blevequery.Query, structureType string) blevequery.Query {
	if structureType == "" {
		return q
	}
	tq := bleve.NewTermQuery(structureType)
	tq.SetField(fieldStructureType)
	return bleve.NewConjunctionQuery(q, tq)
}

// fieldQuery matches query against one field: a match query, or when fuzzy
// is set a disjunction of per-term fuzzy queries.
func (b *BleveIndex) fieldQuery(query string, terms []string, field string, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	if len(terms) == 1 {
		return fuzzyTerm(terms[0], field, fuzziness)
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		queries = append(queries, fuzzyTerm(term, field, fuzziness))
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func fuzzyTerm(term, field string, fuzziness int) *blevequery.FuzzyQuery {
	fq := bleve.NewFuzzyQuery(term)
	fq.SetFuzziness(fuzziness)
	fq.SetField(field)
	return fq
}

// termCoverage counts how many distinct query terms each record matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzy bool, fuzziness int, structureType string) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		perField := make([]blevequery.Query, 0, len(textFields))
		for _, f := range textFields {
			perField = append(perField, b.fieldQuery(term, []string{term}, f, fuzzy, fuzziness))
		}
		req := bleve.NewSearchRequest(b.restrict(bleve.NewDisjunctionQuery(perField...), structureType))
		req.Size = reqSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// tokenizeQuery splits query into distinct lowercase terms.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// Delete removes a record from the index.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of records in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns the indexed terms of the text fields. A term's frequency is
// the largest document count it has in any one field.
func (b *BleveIndex) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, f := range textFields {
		dict, err := b.index.FieldDict(f)
		if err != nil {
			return nil, fmt.Errorf("field dictionary %s: %w", f, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if int(entry.Count) > terms[entry.Term] {
				terms[entry.Term] = int(entry.Count)
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}
