package store

import "fmt"

// Lexical backend names.
const (
	LexicalBackendBleve  = "bleve"
	LexicalBackendSQLite = "sqlite"
)

// NewLexicalIndex creates an empty lexical index for the named backend.
// An empty backend selects Bleve.
func NewLexicalIndex(backend string, config LexicalConfig) (LexicalIndex, error) {
	if config.StopWords == nil {
		config.StopWords = DefaultStopWords
	}
	switch backend {
	case "", LexicalBackendBleve:
		return NewBleveLexicalIndex(config)
	case LexicalBackendSQLite:
		return NewSQLiteLexicalIndex(config)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (want %s or %s)",
			backend, LexicalBackendBleve, LexicalBackendSQLite)
	}
}
