package migrations

import (
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	data, err := Files.ReadFile("001_init.sql")
	if err != nil {
		t.Fatalf("expected embedded migration, got error: %v", err)
	}
	if !strings.Contains(string(data), "calendar_documents") {
		t.Fatalf("initial migration does not create calendar_documents")
	}
}
