package memory

import (
	"testing"

	"github.com/mtnfog/entitydb/pkg/storage/test"
)

func TestMemoryEntityStore(t *testing.T) {
	ds := New()
	defer ds.Close()

	test.RunAllTests(t, ds)
}
