package elasticsearch

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/index/test"
	"github.com/mtnfog/entitydb/pkg/logger"
)

// TestElasticsearchSearchIndex runs the shared conformance suite against a
// live Elasticsearch cluster. Set ENTITYDB_TEST_ELASTICSEARCH_URL to enable
// it, e.g. 'http://localhost:9200'.
func TestElasticsearchSearchIndex(t *testing.T) {
	url := os.Getenv("ENTITYDB_TEST_ELASTICSEARCH_URL")
	if url == "" {
		t.Skip("ENTITYDB_TEST_ELASTICSEARCH_URL not set")
	}

	indexName := fmt.Sprintf("entities-test-%d", time.Now().UnixNano())

	idx, err := New([]string{url}, indexName, logger.NewNoopLogger())
	require.NoError(t, err)
	defer idx.Close()

	test.RunAllTests(t, idx)
}
