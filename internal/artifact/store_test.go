package artifact

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	uri, err := s.Put(context.Background(), "tenant-a/task-1/output.json", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("uri = %q, want file:// prefix", uri)
	}
	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("payload = %s", data)
	}
}

func TestMinIOStoreRequiresEndpoint(t *testing.T) {
	if _, err := NewMinIOStore(MinIOConfig{}); err == nil {
		t.Fatalf("empty endpoint accepted")
	}
}
