package patterns

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-enry/go-enry/v2"

	"fluorite-memory/internal/types"
)

// AnyLanguage registers a detector for every language.
const AnyLanguage = "*"

// Source is the code a detector inspects.
type Source struct {
	Language  string
	Framework string
	Code      string
}

// Detection is one pattern found in a Source.
type Detection struct {
	Name       string
	Type       PatternType
	Signature  string
	Confidence float32
	Frameworks []string
}

// Detector recognises a code pattern.
type Detector interface {
	Name() string
	Detect(src Source) (Detection, bool)
}

// FrameworkDetector recognises a framework idiom in a chunk's code.
type FrameworkDetector interface {
	Framework() string
	Detect(chunkID types.ChunkID, code string) (FrameworkPattern, bool)
}

// Rule is a keyword detector. All of Require must appear, plus at least
// one of AnyOf when it is set. Framework restricts the rule to code tagged
// with that framework.
type Rule struct {
	Label      string
	Type       PatternType
	Signature  string
	Confidence float32
	Framework  string
	Require    []string
	AnyOf      []string
	Match      *regexp.Regexp
}

func (r Rule) Name() string { return r.Label }

func (r Rule) Detect(src Source) (Detection, bool) {
	if r.Framework != "" && types.NormalizeFramework(src.Framework) != r.Framework {
		return Detection{}, false
	}
	for _, kw := range r.Require {
		if !strings.Contains(src.Code, kw) {
			return Detection{}, false
		}
	}
	if len(r.AnyOf) > 0 && !containsAny(src.Code, r.AnyOf) {
		return Detection{}, false
	}
	if r.Match != nil && !r.Match.MatchString(src.Code) {
		return Detection{}, false
	}

	d := Detection{Name: r.Label, Type: r.Type, Signature: r.Signature, Confidence: r.Confidence}
	switch {
	case r.Framework != "":
		d.Frameworks = []string{r.Framework}
	case src.Framework != "":
		d.Frameworks = []string{types.NormalizeFramework(src.Framework)}
	}
	return d, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FrameworkRule is the keyword form of FrameworkDetector.
type FrameworkRule struct {
	Name            string
	Prefix          string
	FrameworkName   string
	Require         []string
	AnyOf           []string
	Dependencies    []string
	BestPractices   []string
	CommonIssues    []string
	RelatedPatterns []string
}

func (r FrameworkRule) Framework() string { return r.FrameworkName }

func (r FrameworkRule) Detect(chunkID types.ChunkID, code string) (FrameworkPattern, bool) {
	for _, kw := range r.Require {
		if !strings.Contains(code, kw) {
			return FrameworkPattern{}, false
		}
	}
	if len(r.AnyOf) > 0 && !containsAny(code, r.AnyOf) {
		return FrameworkPattern{}, false
	}
	return FrameworkPattern{
		ID:              r.Prefix + "-" + string(chunkID),
		Framework:       r.FrameworkName,
		PatternName:     r.Name,
		Chunk:           chunkID,
		Dependencies:    r.Dependencies,
		BestPractices:   r.BestPractices,
		CommonIssues:    r.CommonIssues,
		RelatedPatterns: r.RelatedPatterns,
	}, true
}

// Registry maps languages and frameworks to their detectors. It is built
// once at startup and handed to the analyzer.
type Registry struct {
	mu          sync.RWMutex
	byLanguage  map[string][]Detector
	byFramework map[string][]FrameworkDetector
}

func NewRegistry() *Registry {
	return &Registry{
		byLanguage:  make(map[string][]Detector),
		byFramework: make(map[string][]FrameworkDetector),
	}
}

// Register adds d for each language; AnyLanguage applies it everywhere.
func (r *Registry) Register(d Detector, languages ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lang := range languages {
		lang = NormalizeLanguage(lang)
		r.byLanguage[lang] = append(r.byLanguage[lang], d)
	}
}

func (r *Registry) RegisterFramework(d FrameworkDetector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fw := types.NormalizeFramework(d.Framework())
	r.byFramework[fw] = append(r.byFramework[fw], d)
}

// Detectors returns the generic detectors followed by the language's own.
func (r *Registry) Detectors(language string) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Detector(nil), r.byLanguage[AnyLanguage]...)
	if lang := NormalizeLanguage(language); lang != "" && lang != AnyLanguage {
		out = append(out, r.byLanguage[lang]...)
	}
	return out
}

func (r *Registry) FrameworkDetectors(framework string) []FrameworkDetector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]FrameworkDetector(nil), r.byFramework[types.NormalizeFramework(framework)]...)
}

// Detect runs every applicable detector over src.
func (r *Registry) Detect(src Source) []Detection {
	var out []Detection
	for _, d := range r.Detectors(src.Language) {
		if det, ok := d.Detect(src); ok {
			out = append(out, det)
		}
	}
	return out
}

var languageAliases = map[string]string{
	"ts":         "typescript",
	"tsx":        "typescript",
	"js":         "javascript",
	"jsx":        "javascript",
	"mjs":        "javascript",
	"node":       "javascript",
	"blade":      "php",
	"hack":       "php",
	"javascript": "javascript",
	"typescript": "typescript",
	"php":        "php",
}

// NormalizeLanguage lowercases language and folds common aliases.
func NormalizeLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[l]; ok {
		return alias
	}
	return l
}

// DetectLanguage resolves the language of code content, falling back to
// go-enry on the file path when the content does not name one.
func DetectLanguage(c *types.CodeContent, filePath string) string {
	if c.Language != "" {
		return NormalizeLanguage(c.Language)
	}
	if filePath == "" {
		return ""
	}
	return NormalizeLanguage(enry.GetLanguage(filepath.Base(filePath), []byte(c.Code)))
}

var (
	jsLanguages  = []string{"javascript", "typescript"}
	phpClassExpr = regexp.MustCompile(`(?m)^\s*(?:final\s+|abstract\s+)?class\s+\w+`)
)

// DefaultRegistry holds the built-in JavaScript/TypeScript, Next.js, PHP and
// Laravel detectors.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Rule{
		Label: "Export Function", Type: PatternFunction, Signature: "export function",
		Confidence: 0.9, Require: []string{"export", "function"},
	}, jsLanguages...)
	r.Register(Rule{
		Label: "Arrow Function", Type: PatternFunction, Signature: "const name = () =>",
		Confidence: 0.8, Require: []string{"const", "=", "=>"},
	}, jsLanguages...)
	r.Register(Rule{
		Label: "Default Export", Type: PatternModule, Signature: "export default",
		Confidence: 0.95, Require: []string{"export default"}, AnyOf: []string{"function", "class"},
	}, jsLanguages...)
	r.Register(Rule{
		Label: "Next.js Server-Side Rendering", Type: PatternFunction, Signature: "getServerSideProps",
		Confidence: 1.0, Framework: "nextjs", Require: []string{"getServerSideProps"},
	}, jsLanguages...)
	r.Register(Rule{
		Label: "Next.js Static Site Generation", Type: PatternFunction, Signature: "getStaticProps",
		Confidence: 1.0, Framework: "nextjs", Require: []string{"getStaticProps"},
	}, jsLanguages...)
	r.Register(Rule{
		Label: "Next.js API Route", Type: PatternAPIEndpoint, Signature: "NextApiRequest, NextApiResponse",
		Confidence: 1.0, Framework: "nextjs", Require: []string{"NextApiRequest", "NextApiResponse"},
	}, jsLanguages...)

	r.Register(Rule{
		Label: "PHP Class", Type: PatternComponent, Signature: "class Name",
		Confidence: 0.85, Match: phpClassExpr,
	}, "php")
	r.Register(Rule{
		Label: "PHP Namespace", Type: PatternModule, Signature: "namespace",
		Confidence: 0.8, Require: []string{"namespace "},
	}, "php")
	r.Register(Rule{
		Label: "Eloquent Model", Type: PatternDatabaseModel, Signature: "extends Model",
		Confidence: 0.9, Framework: "laravel", Require: []string{"extends Model"},
	}, "php")

	r.Register(Rule{
		Label: "Try Catch", Type: PatternErrorHandling, Signature: "try { } catch",
		Confidence: 0.6, Require: []string{"try", "catch"},
	}, AnyLanguage)

	r.RegisterFramework(FrameworkRule{
		Name: "Page Component", Prefix: "nextjs-page", FrameworkName: "nextjs",
		AnyOf:        []string{"pages/", "app/"},
		Dependencies: []string{"react", "next"},
		BestPractices: []string{
			"Use getServerSideProps for dynamic data",
			"Implement proper SEO metadata",
		},
		CommonIssues: []string{
			"Hydration mismatch errors",
			"Missing key props in lists",
		},
		RelatedPatterns: []string{"react-component"},
	})
	r.RegisterFramework(FrameworkRule{
		Name: "Controller", Prefix: "laravel-controller", FrameworkName: "laravel",
		Require:      []string{"class", "Controller"},
		Dependencies: []string{"laravel"},
		BestPractices: []string{
			"Use resource controllers",
			"Validate request data",
		},
		CommonIssues: []string{
			"Missing CSRF protection",
			"Unvalidated input",
		},
		RelatedPatterns: []string{"laravel-model"},
	})
	return r
}
