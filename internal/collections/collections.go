package collections

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"kometaai/internal/logging"
	"kometaai/internal/tags"
)

const (
	DefaultConfidenceThreshold = 0.7
	DefaultRefinementThreshold = 0.15
)

var (
	startMarker = regexp.MustCompile(`^#\s*===\s*KOMETA-AI\s*===\s*$`)
	endMarker   = regexp.MustCompile(`^#\s*===\s*END\s+KOMETA-AI\s*===\s*$`)
	keyLine     = regexp.MustCompile(`^([^:#][^:]*):`)
)

// Collection is one AI-managed collection definition.
type Collection struct {
	Name                   string
	Slug                   string
	Enabled                bool
	Prompt                 string
	ConfidenceThreshold    float64
	Priority               int
	UseIterativeRefinement bool
	RefinementThreshold    float64
	ExcludeTags            []string
	IncludeTags            []string
	Source                 string

	// replaced lists settings that were out of range and fell back to defaults.
	replaced []string
}

// Tag returns the catalog tag label that backs the collection.
func (c Collection) Tag() string {
	return tags.Label(c.Name)
}

type blockFields struct {
	Enabled                *bool    `yaml:"enabled"`
	Prompt                 *string  `yaml:"prompt"`
	ConfidenceThreshold    *float64 `yaml:"confidence_threshold"`
	Priority               *int     `yaml:"priority"`
	UseIterativeRefinement *bool    `yaml:"use_iterative_refinement"`
	RefinementThreshold    *float64 `yaml:"refinement_threshold"`
	ExcludeTags            flexList `yaml:"exclude_tags"`
	IncludeTags            flexList `yaml:"include_tags"`
}

// flexList accepts either a YAML sequence or a comma-separated string.
type flexList []string

func (l *flexList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*l = cleanList(values)
	case yaml.ScalarNode:
		*l = cleanList(strings.Split(node.Value, ","))
	default:
		return fmt.Errorf("line %d: expected list or string", node.Line)
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Parser scans a Kometa configuration directory.
type Parser struct {
	dir    string
	logger *slog.Logger
}

// NewParser returns a parser rooted at dir.
func NewParser(dir string, logger *slog.Logger) *Parser {
	return &Parser{dir: dir, logger: logging.NewComponentLogger(logger, "collections")}
}

// All returns every definition found, sorted by priority descending then
// name. A name declared in several files keeps the definition read last.
func (p *Parser) All() ([]Collection, error) {
	files, err := p.files()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Collection)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logging.WarnWithContext(p.logger, "cannot read kometa file", "collections_read_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "collections in this file are skipped"),
			)
			continue
		}
		found, errs := Parse(path, data)
		for _, perr := range errs {
			logging.WarnWithContext(p.logger, "invalid collection block", "collections_block_invalid",
				logging.String("path", path),
				logging.Error(perr),
				logging.String(logging.FieldErrorHint, "fix the YAML between the KOMETA-AI markers"),
				logging.String(logging.FieldImpact, "collection skipped"),
			)
		}
		for _, c := range found {
			if prev, ok := byName[c.Name]; ok {
				logging.WarnWithContext(p.logger, "collection defined in multiple files", "collections_duplicate",
					logging.String(logging.FieldCollection, c.Name),
					logging.String("previous", prev.Source),
					logging.String("using", c.Source),
				)
			}
			for _, note := range c.replaced {
				logging.WarnWithContext(p.logger, "collection setting out of range", "collections_value_replaced",
					logging.String(logging.FieldCollection, c.Name),
					logging.String("path", path),
					logging.String("detail", note),
					logging.String(logging.FieldImpact, "default value used"),
				)
			}
			if strings.TrimSpace(c.Prompt) == "" {
				logging.WarnWithContext(p.logger, "collection has no prompt", "collections_empty_prompt",
					logging.String(logging.FieldCollection, c.Name),
					logging.String(logging.FieldErrorHint, "add a prompt: key to the KOMETA-AI block"),
				)
			}
			byName[c.Name] = c
		}
	}
	out := make([]Collection, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	Sort(out)
	p.logger.Debug("collections parsed", logging.Int("files", len(files)), logging.Int("collections", len(out)))
	return out, nil
}

// Enabled returns the enabled definitions in priority order.
func (p *Parser) Enabled() ([]Collection, error) {
	all, err := p.All()
	if err != nil {
		return nil, err
	}
	return Enabled(all), nil
}

// Enabled filters list to enabled collections, preserving order.
func Enabled(list []Collection) []Collection {
	out := make([]Collection, 0, len(list))
	for _, c := range list {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// Sort orders by priority descending, then name.
func Sort(list []Collection) {
	slices.SortStableFunc(list, func(a, b Collection) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// Find returns the collection with name, matching case-insensitively.
func Find(list []Collection, name string) (Collection, bool) {
	for _, c := range list {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return Collection{}, false
}

func (p *Parser) files() ([]string, error) {
	info, err := os.Stat(p.dir)
	if err != nil {
		return nil, fmt.Errorf("kometa config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("kometa config dir %q is not a directory", p.dir)
	}
	var files []string
	err = filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != p.dir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(name)); ext == ".yml" || ext == ".yaml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan kometa config dir: %w", err)
	}
	return files, nil
}

// Parse extracts every definition from one file's content. Blocks that fail
// to parse are reported and skipped.
func Parse(source string, data []byte) ([]Collection, []error) {
	var (
		out     []Collection
		errs    []error
		body    []string
		inBlock bool
		pending *blockFields
		startLn int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		trimmed := strings.TrimSpace(scanner.Text())
		switch {
		case inBlock && endMarker.MatchString(trimmed):
			inBlock = false
			fields, err := decodeBlock(body)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s:%d: %w", source, startLn, err))
				pending = nil
				continue
			}
			pending = &fields
		case inBlock:
			body = append(body, uncomment(trimmed))
		case startMarker.MatchString(trimmed):
			inBlock = true
			body = body[:0]
			startLn = line
			pending = nil
		case pending != nil:
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			m := keyLine.FindStringSubmatch(trimmed)
			if m == nil {
				errs = append(errs, fmt.Errorf("%s:%d: no collection key after KOMETA-AI block", source, line))
				pending = nil
				continue
			}
			name := strings.Trim(strings.TrimSpace(m[1]), `"'`)
			out = append(out, build(name, source, *pending))
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", source, err))
	}
	if inBlock {
		errs = append(errs, fmt.Errorf("%s:%d: KOMETA-AI block is not terminated", source, startLn))
	}
	if pending != nil {
		errs = append(errs, fmt.Errorf("%s:%d: no collection key after KOMETA-AI block", source, startLn))
	}
	return out, errs
}

// uncomment removes the leading comment marker and one following space.
func uncomment(line string) string {
	line = strings.TrimPrefix(line, "#")
	return strings.TrimPrefix(line, " ")
}

func decodeBlock(lines []string) (blockFields, error) {
	var fields blockFields
	text := strings.Join(lines, "\n")
	if strings.TrimSpace(text) == "" {
		return fields, nil
	}
	if err := yaml.Unmarshal([]byte(text), &fields); err != nil {
		return fields, fmt.Errorf("decode block: %w", err)
	}
	return fields, nil
}

func build(name, source string, f blockFields) Collection {
	c := Collection{
		Name:                name,
		Slug:                tags.Slug(name),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RefinementThreshold: DefaultRefinementThreshold,
		ExcludeTags:         f.ExcludeTags,
		IncludeTags:         f.IncludeTags,
		Source:              source,
	}
	if f.Enabled != nil {
		c.Enabled = *f.Enabled
	}
	if f.Prompt != nil {
		c.Prompt = strings.TrimSpace(*f.Prompt)
	}
	if v := f.ConfidenceThreshold; v != nil {
		if *v >= 0 && *v <= 1 {
			c.ConfidenceThreshold = *v
		} else {
			c.replaced = append(c.replaced, fmt.Sprintf("confidence_threshold %g outside [0,1], using %g", *v, DefaultConfidenceThreshold))
		}
	}
	if f.Priority != nil {
		c.Priority = *f.Priority
	}
	if f.UseIterativeRefinement != nil {
		c.UseIterativeRefinement = *f.UseIterativeRefinement
	}
	if v := f.RefinementThreshold; v != nil {
		if *v >= 0 && *v < 1 {
			c.RefinementThreshold = *v
		} else {
			c.replaced = append(c.replaced, fmt.Sprintf("refinement_threshold %g outside [0,1), using %g", *v, DefaultRefinementThreshold))
		}
	}
	return c
}
