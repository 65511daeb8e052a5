// Package ftfast implements the fast full-text index: a virtual-doc
// token engine with BM25, positional and term-length scoring, typo
// tolerance and prefix/partial matching.
package ftfast

import (
	"encoding/json"

	"github.com/narwhaldb/narwhal/dberr"
)

// FieldConfig weights one field of a composite full-text index.
type FieldConfig struct {
	Bm25Boost      float64 `json:"bm25_boost"`
	Bm25Weight     float64 `json:"bm25_weight"`
	TermLenBoost   float64 `json:"term_len_boost"`
	TermLenWeight  float64 `json:"term_len_weight"`
	PositionBoost  float64 `json:"position_boost"`
	PositionWeight float64 `json:"position_weight"`
}

// DefaultFieldConfig mirrors the engine defaults.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		Bm25Boost:      1.0,
		Bm25Weight:     0.1,
		TermLenBoost:   1.0,
		TermLenWeight:  0.3,
		PositionBoost:  1.0,
		PositionWeight: 0.1,
	}
}

// Config is the per-index tuning block, accepted as JSON in the index
// definition.
type Config struct {
	FullMatchBoost       float64       `json:"full_match_boost"`
	PartialMatchDecrease int           `json:"partial_match_decrease"`
	MinRelevancy         float64       `json:"min_relevancy"`
	MaxTyposInWord       int           `json:"max_typos_in_word"`
	MaxTypoLen           int           `json:"max_typo_len"`
	MaxRebuildSteps      int           `json:"max_rebuild_steps"`
	MaxStepSize          int           `json:"max_step_size"`
	MinPartialPrefix     int           `json:"min_partial_prefix"`
	ExtraWordSymbols     string        `json:"extra_word_symbols"`
	StopWords            []string      `json:"stop_words"`
	Synonyms             []SynonymDef  `json:"synonyms"`
	Fields               []FieldConfig `json:"fields"`
}

// SynonymDef expands query tokens into alternatives.
type SynonymDef struct {
	Tokens       []string `json:"tokens"`
	Alternatives []string `json:"alternatives"`
}

// DefaultConfig returns the engine defaults for n fields.
func DefaultConfig(numFields int) Config {
	if numFields < 1 {
		numFields = 1
	}
	fields := make([]FieldConfig, numFields)
	for i := range fields {
		fields[i] = DefaultFieldConfig()
	}
	return Config{
		FullMatchBoost:       1.1,
		PartialMatchDecrease: 15,
		MinRelevancy:         0.05,
		MaxTyposInWord:       1,
		MaxTypoLen:           15,
		MaxRebuildSteps:      50,
		MaxStepSize:          4000,
		MinPartialPrefix:     4,
		ExtraWordSymbols:     "-/+",
		Fields:               fields,
	}
}

// ParseConfig overlays raw JSON onto the defaults.
func ParseConfig(raw json.RawMessage, numFields int) (Config, error) {
	cfg := DefaultConfig(numFields)
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, dberr.Wrap(dberr.CodeParseJSON, err, "fulltext config")
	}
	for len(cfg.Fields) < numFields {
		cfg.Fields = append(cfg.Fields, DefaultFieldConfig())
	}
	return cfg, nil
}

func (c *Config) fieldCfg(field int) FieldConfig {
	if field >= 0 && field < len(c.Fields) {
		return c.Fields[field]
	}
	return DefaultFieldConfig()
}

func (c *Config) isStopWord(tok string) bool {
	for _, w := range c.StopWords {
		if w == tok {
			return true
		}
	}
	return false
}
