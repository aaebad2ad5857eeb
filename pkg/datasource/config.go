package datasource

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDelimiter separates the backend name from the channel name.
const DefaultDelimiter = "://"

// ConfigVersion is the only supported configuration document version.
const ConfigVersion = 1

// CompositeConfig configures the routing of a Composite.
type CompositeConfig struct {
	// Delimiter separates backend and channel. Defaults to "://".
	Delimiter string `yaml:"delimiter"`

	// DefaultDataSource receives names without a delimiter. Empty means such
	// names fail with ErrNoDefaultDataSource.
	DefaultDataSource string `yaml:"defaultDataSource"`
}

// DefaultCompositeConfig returns the routing used when no file is present.
func DefaultCompositeConfig() CompositeConfig {
	return CompositeConfig{Delimiter: DefaultDelimiter}
}

// LoadCompositeConfig reads the routing configuration from path. The format
// follows the extension: .xml, .yaml or .yml. A missing file yields the
// default configuration.
func LoadCompositeConfig(path string) (CompositeConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCompositeConfig(), nil
	}
	if err != nil {
		return CompositeConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return ParseCompositeConfigXML(data)
	case ".yaml", ".yml":
		return ParseCompositeConfigYAML(data)
	default:
		return CompositeConfig{}, fmt.Errorf("%w: unsupported file type %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

type xmlDataSources struct {
	XMLName   xml.Name      `xml:"dataSources"`
	Version   string        `xml:"version,attr"`
	Composite *xmlComposite `xml:"compositeDataSource"`
}

type xmlComposite struct {
	Delimiter         *string `xml:"delimiter,attr"`
	DefaultDataSource string  `xml:"defaultDataSource,attr"`
}

// ParseCompositeConfigXML parses a document of the form
//
//	<dataSources version="1">
//	  <compositeDataSource delimiter="://" defaultDataSource="ca"/>
//	</dataSources>
func ParseCompositeConfigXML(data []byte) (CompositeConfig, error) {
	var doc xmlDataSources
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return CompositeConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if doc.Version == "" {
		return CompositeConfig{}, fmt.Errorf("%w: missing version attribute", ErrInvalidConfig)
	}
	if doc.Version != fmt.Sprint(ConfigVersion) {
		return CompositeConfig{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidConfig, doc.Version)
	}

	cfg := DefaultCompositeConfig()
	if doc.Composite == nil {
		return cfg, nil
	}
	if doc.Composite.Delimiter != nil {
		if *doc.Composite.Delimiter == "" {
			return CompositeConfig{}, fmt.Errorf("%w: empty delimiter", ErrInvalidConfig)
		}
		cfg.Delimiter = *doc.Composite.Delimiter
	}
	cfg.DefaultDataSource = doc.Composite.DefaultDataSource
	return cfg, nil
}

type yamlDataSources struct {
	Version   int            `yaml:"version"`
	Composite *yamlComposite `yaml:"compositeDataSource"`
}

type yamlComposite struct {
	Delimiter         *string `yaml:"delimiter"`
	DefaultDataSource string  `yaml:"defaultDataSource"`
}

// ParseCompositeConfigYAML parses a document of the form
//
//	version: 1
//	compositeDataSource:
//	  delimiter: "://"
//	  defaultDataSource: ca
func ParseCompositeConfigYAML(data []byte) (CompositeConfig, error) {
	var doc yamlDataSources
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return CompositeConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if doc.Version != ConfigVersion {
		return CompositeConfig{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidConfig, doc.Version)
	}

	cfg := DefaultCompositeConfig()
	if doc.Composite == nil {
		return cfg, nil
	}
	if doc.Composite.Delimiter != nil {
		if *doc.Composite.Delimiter == "" {
			return CompositeConfig{}, fmt.Errorf("%w: empty delimiter", ErrInvalidConfig)
		}
		cfg.Delimiter = *doc.Composite.Delimiter
	}
	cfg.DefaultDataSource = doc.Composite.DefaultDataSource
	return cfg, nil
}
