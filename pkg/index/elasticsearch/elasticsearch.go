// Package elasticsearch provides an Elasticsearch backed search index.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/logger"
	"github.com/mtnfog/entitydb/pkg/storage"
)

var tracer = otel.Tracer("entitydb/pkg/index/elasticsearch")

// The text field is mapped as a keyword: EQL text matching is exact or
// prefix, never analyzed full text.
const mapping = `{
  "mappings": {
    "dynamic_templates": [
      {
        "metadata_as_keyword": {
          "path_match": "metadata.*",
          "mapping": { "type": "keyword" }
        }
      }
    ],
    "properties": {
      "entity_id":      { "type": "keyword" },
      "text":           { "type": "keyword" },
      "type":           { "type": "keyword" },
      "confidence":     { "type": "double" },
      "context":        { "type": "keyword" },
      "document_id":    { "type": "keyword" },
      "uri":            { "type": "keyword" },
      "language_code":  { "type": "keyword" },
      "ts":             { "type": "long" },
      "transaction_id": { "type": "keyword" },
      "acl": {
        "properties": {
          "users":  { "type": "keyword" },
          "groups": { "type": "keyword" },
          "world":  { "type": "boolean" }
        }
      }
    }
  }
}`

type document struct {
	EntityID      string            `json:"entity_id"`
	Text          string            `json:"text"`
	Type          string            `json:"type"`
	Confidence    float64           `json:"confidence"`
	Context       string            `json:"context"`
	DocumentID    string            `json:"document_id"`
	URI           string            `json:"uri,omitempty"`
	LanguageCode  string            `json:"language_code,omitempty"`
	Timestamp     int64             `json:"ts"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Acl           documentAcl       `json:"acl"`
}

type documentAcl struct {
	Users  []string `json:"users"`
	Groups []string `json:"groups"`
	World  bool     `json:"world"`
}

// Index provides an Elasticsearch based implementation of
// index.SearchIndex. Document versions use Elasticsearch's external
// versioning, so optimistic-concurrency checks happen server-side.
type Index struct {
	client    *elasticsearch.Client
	indexName string
	logger    logger.Logger
}

var _ index.SearchIndex = (*Index)(nil)

// New creates an Index over the cluster at the given addresses, creating
// the backing Elasticsearch index if it does not exist.
func New(addresses []string, indexName string, log logger.Logger) (*Index, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize elasticsearch client: %w", err)
	}

	idx := &Index{
		client:    client,
		indexName: indexName,
		logger:    log,
	}

	if err := idx.ensureIndex(); err != nil {
		return nil, err
	}

	return idx, nil
}

func (i *Index) ensureIndex() error {
	res, err := i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %q: %w", i.indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create index %q: %s", i.indexName, res.String())
	}

	return nil
}

// Index see index.SearchIndex.Index.
func (i *Index) Index(ctx context.Context, e *index.IndexedEntity) error {
	ctx, span := tracer.Start(ctx, "elasticsearch.Index")
	defer span.End()

	// external_gte accepts a write at the current version, so re-indexing
	// an entity after a crash or a failed indexed-marker update lands as
	// an overwrite instead of a permanent conflict.
	ok, err := i.put(ctx, e, "external_gte")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("version conflict indexing entity %s", e.EntityID)
	}

	return nil
}

// put writes one document under the given external version type. It returns
// false on a version conflict.
func (i *Index) put(ctx context.Context, e *index.IndexedEntity, versionType string) (bool, error) {
	if e == nil || e.EntityID == "" {
		return false, fmt.Errorf("indexed entity requires an entity id")
	}

	body, err := json.Marshal(toDocument(e))
	if err != nil {
		return false, err
	}

	req := esapi.IndexRequest{
		Index:       i.indexName,
		DocumentID:  e.EntityID,
		Body:        bytes.NewReader(body),
		Version:     intPtr(int(e.DocumentVersion)),
		VersionType: versionType,
		Refresh:     "true",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode == 409 {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("index entity %s: %s", e.EntityID, res.String())
	}

	return true, nil
}

// IndexBatch see index.SearchIndex.IndexBatch.
func (i *Index) IndexBatch(ctx context.Context, es []*index.IndexedEntity) ([]string, error) {
	ctx, span := tracer.Start(ctx, "elasticsearch.IndexBatch")
	defer span.End()

	var failed []string
	for _, e := range es {
		if err := i.Index(ctx, e); err != nil {
			if e != nil {
				failed = append(failed, e.EntityID)
			}
			i.logger.Warn("failed to index entity",
				zap.String("entityId", entityID(e)), zap.Error(err))
		}
	}

	return failed, nil
}

// Get see index.SearchIndex.Get.
func (i *Index) Get(ctx context.Context, id string) (*index.IndexedEntity, error) {
	ctx, span := tracer.Start(ctx, "elasticsearch.Get")
	defer span.End()

	req := esapi.GetRequest{
		Index:      i.indexName,
		DocumentID: id,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, index.ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get entity %s: %s", id, res.String())
	}

	var payload struct {
		Version int64    `json:"_version"`
		Source  document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, err
	}

	e := fromDocument(&payload.Source)
	e.DocumentVersion = payload.Version

	return e, nil
}

// Delete see index.SearchIndex.Delete.
func (i *Index) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "elasticsearch.Delete")
	defer span.End()

	req := esapi.DeleteRequest{
		Index:      i.indexName,
		DocumentID: id,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete entity %s: %s", id, res.String())
	}

	return nil
}

// Update see index.SearchIndex.Update.
func (i *Index) Update(ctx context.Context, e *index.IndexedEntity) (bool, error) {
	ctx, span := tracer.Start(ctx, "elasticsearch.Update")
	defer span.End()

	// Strict external versioning accepts only increasing versions: a
	// stale DocumentVersion puts a version equal to the current one and
	// conflicts, which is the optimistic concurrency check.
	updated := *e
	updated.DocumentVersion = e.DocumentVersion + 1

	return i.put(ctx, &updated, "external")
}

// Query see index.SearchIndex.Query.
func (i *Index) Query(ctx context.Context, query *storage.EntityQuery) ([]*index.IndexedEntity, error) {
	ctx, span := tracer.Start(ctx, "elasticsearch.Query")
	defer span.End()

	body, err := json.Marshal(buildSearchBody(query))
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index:   []string{i.indexName},
		Body:    bytes.NewReader(body),
		Version: boolPtr(true),
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("query index: %s", res.String())
	}

	var payload struct {
		Hits struct {
			Hits []struct {
				Version int64    `json:"_version"`
				Source  document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := make([]*index.IndexedEntity, 0, len(payload.Hits.Hits))
	for _, hit := range payload.Hits.Hits {
		e := fromDocument(&hit.Source)
		e.DocumentVersion = hit.Version
		out = append(out, e)
	}

	return out, nil
}

// GetCount see index.SearchIndex.GetCount.
func (i *Index) GetCount(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "elasticsearch.GetCount")
	defer span.End()

	req := esapi.CountRequest{
		Index: []string{i.indexName},
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("count index: %s", res.String())
	}

	var payload struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return 0, err
	}

	return payload.Count, nil
}

// GetStatus see index.SearchIndex.GetStatus.
func (i *Index) GetStatus(ctx context.Context) (*index.Status, error) {
	count, err := i.GetCount(ctx)
	if err != nil {
		return &index.Status{Backend: "elasticsearch", Healthy: false}, nil
	}

	return &index.Status{
		Backend: "elasticsearch",
		Count:   count,
		Healthy: true,
	}, nil
}

// Close does not do anything for Index: the underlying transport holds no
// closable resources.
func (i *Index) Close() {}

func toDocument(e *index.IndexedEntity) *document {
	return &document{
		EntityID:      e.EntityID,
		Text:          e.Text,
		Type:          e.Type,
		Confidence:    e.Confidence,
		Context:       e.Context,
		DocumentID:    e.DocumentID,
		URI:           e.URI,
		LanguageCode:  e.LanguageCode,
		Timestamp:     e.Timestamp,
		TransactionID: e.TransactionID,
		Metadata:      e.Metadata,
		Acl: documentAcl{
			Users:  e.Acl.Users,
			Groups: e.Acl.Groups,
			World:  e.Acl.World,
		},
	}
}

func fromDocument(d *document) *index.IndexedEntity {
	e := &index.IndexedEntity{
		EntityID:      d.EntityID,
		Timestamp:     d.Timestamp,
		TransactionID: d.TransactionID,
	}
	e.Text = d.Text
	e.Type = d.Type
	e.Confidence = d.Confidence
	e.Context = d.Context
	e.DocumentID = d.DocumentID
	e.URI = d.URI
	e.LanguageCode = d.LanguageCode
	e.Metadata = d.Metadata
	e.Acl.Users = d.Acl.Users
	e.Acl.Groups = d.Acl.Groups
	e.Acl.World = d.Acl.World

	return e
}

func entityID(e *index.IndexedEntity) string {
	if e == nil {
		return ""
	}
	return e.EntityID
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
