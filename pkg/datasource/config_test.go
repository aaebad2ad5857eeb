package datasource_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadCompositeConfig(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		wantDelim string
		wantDef   string
		wantErr   bool
	}{
		{
			name:      "XMLFull",
			file:      "ds.xml",
			content:   `<dataSources version="1"><compositeDataSource delimiter=":" defaultDataSource="ca"/></dataSources>`,
			wantDelim: ":",
			wantDef:   "ca",
		},
		{
			name:      "XMLNoComposite",
			file:      "ds.xml",
			content:   `<dataSources version="1"/>`,
			wantDelim: "://",
		},
		{
			name:      "XMLDefaultOnly",
			file:      "ds.xml",
			content:   `<dataSources version="1"><compositeDataSource defaultDataSource="sim"/></dataSources>`,
			wantDelim: "://",
			wantDef:   "sim",
		},
		{name: "XMLMissingVersion", file: "ds.xml", content: `<dataSources/>`, wantErr: true},
		{name: "XMLUnsupportedVersion", file: "ds.xml", content: `<dataSources version="2"/>`, wantErr: true},
		{name: "XMLWrongRoot", file: "ds.xml", content: `<sources version="1"/>`, wantErr: true},
		{name: "XMLMalformed", file: "ds.xml", content: `<dataSources version="1"`, wantErr: true},
		{
			name:    "XMLEmptyDelimiter",
			file:    "ds.xml",
			content: `<dataSources version="1"><compositeDataSource delimiter=""/></dataSources>`,
			wantErr: true,
		},
		{
			name:      "YAML",
			file:      "ds.yaml",
			content:   "version: 1\ncompositeDataSource:\n  delimiter: \"::\"\n  defaultDataSource: loc\n",
			wantDelim: "::",
			wantDef:   "loc",
		},
		{name: "YAMLUnsupportedVersion", file: "ds.yml", content: "version: 3\n", wantErr: true},
		{name: "YAMLMalformed", file: "ds.yaml", content: "version: [1\n", wantErr: true},
		{name: "UnknownExtension", file: "ds.ini", content: "version=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := datasource.LoadCompositeConfig(writeFile(t, tt.file, tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got config %+v", cfg)
				}
				if !errors.Is(err, datasource.ErrInvalidConfig) {
					t.Errorf("error %v does not wrap ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCompositeConfig: %v", err)
			}
			if cfg.Delimiter != tt.wantDelim {
				t.Errorf("Delimiter: got %q, want %q", cfg.Delimiter, tt.wantDelim)
			}
			if cfg.DefaultDataSource != tt.wantDef {
				t.Errorf("DefaultDataSource: got %q, want %q", cfg.DefaultDataSource, tt.wantDef)
			}
		})
	}
}

func TestLoadCompositeConfigMissingFile(t *testing.T) {
	cfg, err := datasource.LoadCompositeConfig(filepath.Join(t.TempDir(), "absent.xml"))
	if err != nil {
		t.Fatalf("LoadCompositeConfig: %v", err)
	}
	if cfg != datasource.DefaultCompositeConfig() {
		t.Errorf("got %+v, want default", cfg)
	}
}
