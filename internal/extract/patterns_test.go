package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
)

func TestLoadPatternSet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name: "valid pattern file",
			content: `version: "2.0"
variants:
  - name: checkout
    kind: checkout
    pattern: '^(?P<ts>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\s+OUT\s+(?P<feature>\S+)\s+(?P<user>\S+)'
`,
			wantErr: false,
		},
		{
			name: "unknown kind",
			content: `version: "2.0"
variants:
  - name: bad
    kind: revocation
    pattern: '^x$'
`,
			wantErr: true,
		},
		{
			name: "invalid regexp",
			content: `version: "2.0"
variants:
  - name: bad
    kind: checkout
    pattern: '^(unclosed'
`,
			wantErr: true,
		},
		{
			name: "missing version",
			content: `variants:
  - name: checkout
    kind: checkout
    pattern: '^x$'
`,
			wantErr: true,
		},
		{
			name:    "no variants",
			content: `version: "2.0"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "patterns.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write pattern file: %v", err)
			}

			ps, err := LoadPatternSet(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadPatternSet() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && ps.Version != "2.0" {
				t.Errorf("expected version 2.0, got %s", ps.Version)
			}
		})
	}
}

func TestDefaultPatternSet_CoversAllKinds(t *testing.T) {
	ps := DefaultPatternSet()

	seen := make(map[domain.EventKind]bool)
	for _, v := range ps.Variants {
		seen[v.Kind] = true
	}

	for _, kind := range []domain.EventKind{domain.KindCheckout, domain.KindCheckin, domain.KindDenial, domain.KindOther} {
		if !seen[kind] {
			t.Errorf("default pattern set missing kind %s", kind)
		}
	}
}
