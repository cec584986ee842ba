// Package topics provides the fixed lexical taxonomy used to tag farming
// conversations, plus the keyword rules that classify memories and pull
// entities out of free text. Matching is deliberately recall-oriented: a
// message may belong to several topics.
package topics

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Topic is a taxonomy bucket name.
type Topic string

// Default taxonomy topics.
const (
	Coffee   Topic = "coffee"
	Pests    Topic = "pests"
	Weather  Topic = "weather"
	Harvest  Topic = "harvest"
	Planting Topic = "planting"
	Soil     Topic = "soil"
	Market   Topic = "market"
	Quality  Topic = "quality"
)

// shortKeywordLen is the length at or below which a keyword must match a
// whole word ("ph" must not match "phone").
const shortKeywordLen = 3

// Classifier maps text to the set of topics it mentions. Implementations
// must return topics in a deterministic order and must be safe for
// concurrent use.
type Classifier interface {
	Topics(text string) []Topic
}

// Entry is one topic with the keywords that select it.
type Entry struct {
	Topic    Topic    `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy is an ordered keyword table. It is immutable after construction.
type Taxonomy struct {
	entries []Entry
}

// Ensure *Taxonomy satisfies Classifier at compile time.
var _ Classifier = (*Taxonomy)(nil)

// DefaultEntries returns the built-in farming keyword table.
func DefaultEntries() []Entry {
	return []Entry{
		{Topic: Coffee, Keywords: []string{"coffee", "arabica", "robusta", "sl28", "sl34", "ruiru", "batian", "k7"}},
		{Topic: Pests, Keywords: []string{"cbd", "clr", "thrips", "mites", "aphids", "pests", "disease", "fungus"}},
		{Topic: Weather, Keywords: []string{"rain", "drought", "weather", "season", "climate", "temperature"}},
		{Topic: Harvest, Keywords: []string{"harvest", "picking", "processing", "drying", "milling", "pulping"}},
		{Topic: Planting, Keywords: []string{"planting", "seedlings", "nursery", "spacing", "transplanting"}},
		{Topic: Soil, Keywords: []string{"soil", "fertilizer", "nutrition", "ph", "organic", "compost", "manure"}},
		{Topic: Market, Keywords: []string{"price", "market", "selling", "buyer", "cooperative", "auction", "grade"}},
		{Topic: Quality, Keywords: []string{"quality", "grade", "aa", "ab", "screening", "defects", "cupping"}},
	}
}

// DefaultTaxonomy returns a Taxonomy built from DefaultEntries.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(DefaultEntries())
	if err != nil {
		panic(fmt.Sprintf("topics: invalid default taxonomy: %v", err))
	}
	return t
}

// NewTaxonomy validates entries and builds a Taxonomy. Keywords are
// lower-cased; duplicate topics and topics without keywords are rejected.
func NewTaxonomy(entries []Entry) (*Taxonomy, error) {
	if len(entries) == 0 {
		return nil, errors.New("topics: taxonomy must contain at least one topic")
	}

	seen := make(map[Topic]bool, len(entries))
	normalized := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := Topic(strings.ToLower(strings.TrimSpace(string(e.Topic))))
		if name == "" {
			return nil, errors.New("topics: topic name is required")
		}
		if seen[name] {
			return nil, fmt.Errorf("topics: duplicate topic %q", name)
		}
		seen[name] = true

		var kws []string
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("topics: topic %q has no keywords", name)
		}
		normalized = append(normalized, Entry{Topic: name, Keywords: kws})
	}

	return &Taxonomy{entries: normalized}, nil
}

// taxonomyFile is the YAML document shape accepted by LoadTaxonomy.
type taxonomyFile struct {
	Topics []Entry `yaml:"topics"`
}

// LoadTaxonomy reads a YAML keyword table of the form:
//
//	topics:
//	  - topic: coffee
//	    keywords: [coffee, arabica]
func LoadTaxonomy(r io.Reader) (*Taxonomy, error) {
	var doc taxonomyFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("topics: failed to decode taxonomy YAML: %w", err)
	}
	return NewTaxonomy(doc.Topics)
}

// LoadTaxonomyFile reads a YAML keyword table from path.
func LoadTaxonomyFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topics: failed to open taxonomy file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadTaxonomy(f)
}

// Topics returns every topic with at least one keyword present in text, in
// taxonomy order.
func (t *Taxonomy) Topics(text string) []Topic {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc := newDocument(text)

	var found []Topic
	for _, e := range t.entries {
		if doc.containsAny(e.Keywords) {
			found = append(found, e.Topic)
		}
	}
	return found
}

// Names returns the configured topics in order.
func (t *Taxonomy) Names() []Topic {
	names := make([]Topic, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Topic
	}
	return names
}

// Strings converts topics to plain strings.
func Strings(ts []Topic) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// document is lower-cased text plus its word set, built once per match call.
type document struct {
	lower string
	words map[string]bool
}

func newDocument(text string) document {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[strings.Trim(f, "'")] = true
	}
	return document{lower: lower, words: words}
}

// contains matches short single-word keywords as whole words and everything
// else as a substring.
func (d document) contains(kw string) bool {
	if len(kw) <= shortKeywordLen && !strings.ContainsRune(kw, ' ') {
		return d.words[kw]
	}
	return strings.Contains(d.lower, kw)
}

func (d document) containsAny(kws []string) bool {
	for _, kw := range kws {
		if d.contains(kw) {
			return true
		}
	}
	return false
}

// hasWord matches kw as a whole word, or as a phrase when it contains spaces.
func (d document) hasWord(kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(" "+d.lower+" ", " "+kw+" ")
	}
	return d.words[kw]
}
