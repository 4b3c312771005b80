// Package scenetext keeps an in-memory full-text index of scene titles and
// descriptions.
package scenetext

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/basho/internal/models"
)

const titleBoost = 2.0

// Hit is one scene matching a text query.
type Hit struct {
	SceneID string  `json:"scene_id"`
	Score   float64 `json:"score"`
}

type sceneDoc struct {
	SceneID     string `json:"scene_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Directory is a Bleve index rebuilt together with the descriptor index. It is safe for
// concurrent use.
type Directory struct {
	index bleve.Index
	mu    sync.RWMutex
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so place names match as written.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("description", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("scene_id", keywordFieldMapping)

	im.AddDocumentMapping("scene", docMapping)
	im.DefaultType = "scene"
	im.DefaultMapping = docMapping
	return im
}

// NewDirectory creates an empty directory.
func NewDirectory() (*Directory, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Directory{index: index}, nil
}

// Reset drops every scene.
func (d *Directory) Reset() error {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	d.mu.Lock()
	old := d.index
	d.index = index
	d.mu.Unlock()
	return old.Close()
}

// Add indexes or replaces one scene.
func (d *Directory) Add(meta models.SceneMetadata) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index.Index(meta.SceneID, sceneDoc{
		SceneID:     meta.SceneID,
		Title:       meta.Title,
		Description: meta.Description,
	})
}

// Count returns the number of indexed scenes.
func (d *Directory) Count() (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index.DocCount()
}

// Search matches query against titles (boosted) and descriptions, tolerating one typo
// per term, and returns up to limit scene ids by relevance.
func (d *Directory) Search(query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(titleBoost)
	title.SetFuzziness(1)
	desc := bleve.NewMatchQuery(query)
	desc.SetField("description")
	desc.SetFuzziness(1)
	var q blevequery.Query = bleve.NewDisjunctionQuery(title, desc)

	req := bleve.NewSearchRequest(q)
	req.Size = limit

	d.mu.RLock()
	results, err := d.index.Search(req)
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]Hit, len(results.Hits))
	for i, h := range results.Hits {
		hits[i] = Hit{SceneID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// Close releases the index.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Close()
}
