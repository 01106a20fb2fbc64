package knowledge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxDocuments = "relay_documents"

// DocumentRecord is the shape indexed into Meilisearch.
type DocumentRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	AgentID   string `json:"agentId,omitempty"`
	Filename  string `json:"filename"`
	Text      string `json:"text"`
	Status    string `json:"status"`
}

// SearchHit is one full-text match.
type SearchHit struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Snippet  string `json:"snippet"`
	AgentID  string `json:"agentId,omitempty"`
}

// Indexer wraps Meilisearch for the knowledge index. A background loop keeps
// track of reachability; indexing is best-effort when the engine is down.
type Indexer struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewIndexer creates a Meilisearch client and configures the knowledge index.
// The caller should proceed without search if the initial connection fails;
// the health loop will pick the engine up when it appears.
func NewIndexer(url, apiKey string) *Indexer {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	idx := &Indexer{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("knowledge: meilisearch unavailable at %s: %v", url, err)
		idx.healthy.Store(false)
	} else {
		idx.healthy.Store(true)
		idx.configureIndex()
	}

	go idx.healthLoop()
	return idx
}

func (x *Indexer) configureIndex() {
	if _, err := x.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("knowledge: create index %s (may already exist): %v", idxDocuments, err)
	}

	index := x.client.Index(idxDocuments)
	filterable := []interface{}{"companyId", "agentId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("knowledge: update filterable attrs: %v", err)
	}
	searchable := []string{"filename", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("knowledge: update searchable attrs: %v", err)
	}
}

func (x *Indexer) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-x.done:
			return
		case <-ticker.C:
			_, err := x.client.Health()
			wasHealthy := x.healthy.Load()
			x.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("knowledge: meilisearch recovered, reconfiguring index")
				x.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (x *Indexer) Close() {
	close(x.done)
}

// Healthy reports whether Meilisearch is reachable.
func (x *Indexer) Healthy() bool {
	return x.healthy.Load()
}

// IndexDocument adds or updates a document in the knowledge index.
func (x *Indexer) IndexDocument(doc DocumentRecord) error {
	_, err := x.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil)
	return err
}

// DeleteDocument removes a document from the knowledge index.
func (x *Indexer) DeleteDocument(id string) error {
	_, err := x.client.Index(idxDocuments).DeleteDocument(id, nil)
	return err
}

// Search runs a company-scoped full-text query.
func (x *Indexer) Search(companyID, query string, limit int) ([]SearchHit, error) {
	if !x.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := x.client.Index(idxDocuments).Search(query, &meili.SearchRequest{
		Limit:                 int64(limit),
		Filter:                []string{fmt.Sprintf("companyId = %q", companyID)},
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		x.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]SearchHit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		hits = append(hits, SearchHit{
			ID:       decodeString(hit, "id"),
			Filename: decodeString(hit, "filename"),
			AgentID:  decodeString(hit, "agentId"),
			Snippet:  firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")),
		})
	}
	return hits, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
