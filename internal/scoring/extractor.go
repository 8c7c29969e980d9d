package scoring

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Signals is what the deterministic extractor reads out of one message.
type Signals struct {
	Attributes model.LeadAttributes
	// HandoffRequested is true when the customer asked for a human.
	HandoffRequested bool
	MatchedPhrase    string
}

// ExtractorConfig lists the vocabulary the extractor looks for. Terms are matched
// case and accent insensitively.
type ExtractorConfig struct {
	Regions         []string
	PrecatorioTerms []string
	UrgencyTerms    []string
	InterestTerms   []string
	HandoffPhrases  []string
}

var (
	// R$ 25.000,00 / R$25000 / r$ 1.200
	currencyRe = regexp.MustCompile(`r\$\s*(\d{1,3}(?:\.\d{3})+|\d+)(?:,(\d{1,2}))?`)
	// 25 mil / 1,5 milhao / 2 milhoes / 30k
	magnitudeRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(mil|milhao|milhoes|k)\b`)
)

// stateNames maps accent-folded state names to UF codes.
var stateNames = map[string]string{
	"acre": "AC", "alagoas": "AL", "amapa": "AP", "amazonas": "AM", "bahia": "BA",
	"ceara": "CE", "distrito federal": "DF", "brasilia": "DF", "espirito santo": "ES",
	"goias": "GO", "maranhao": "MA", "mato grosso do sul": "MS", "mato grosso": "MT",
	"minas gerais": "MG", "estado do para": "PA", "paraiba": "PB", "parana": "PR",
	"pernambuco": "PE", "piaui": "PI", "rio de janeiro": "RJ", "rio grande do norte": "RN",
	"rio grande do sul": "RS", "rondonia": "RO", "roraima": "RR", "santa catarina": "SC",
	"sao paulo": "SP", "sergipe": "SE", "tocantins": "TO",
}

// Extractor applies keyword and regex rules to Portuguese customer messages.
type Extractor struct {
	precatorio     []string
	urgency        []string
	interest       []string
	handoff        []string
	regionCodes    []*regexp.Regexp
	regionCodeUF   []string
	stateNameOrder []string
}

// NewExtractor prepares the vocabulary for matching.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	e := &Extractor{
		precatorio: foldAll(cfg.PrecatorioTerms),
		urgency:    foldAll(cfg.UrgencyTerms),
		interest:   foldAll(cfg.InterestTerms),
		handoff:    foldAll(cfg.HandoffPhrases),
	}
	// Only allow-listed UF codes are matched as bare two-letter words; most
	// other codes are also common Portuguese words ("se", "to", "pa").
	for _, uf := range cfg.Regions {
		uf = strings.ToUpper(strings.TrimSpace(uf))
		if len(uf) != 2 {
			continue
		}
		e.regionCodes = append(e.regionCodes, regexp.MustCompile(`\b`+strings.ToLower(uf)+`\b`))
		e.regionCodeUF = append(e.regionCodeUF, uf)
	}
	// longest names first so "mato grosso do sul" wins over "mato grosso"
	for name := range stateNames {
		e.stateNameOrder = append(e.stateNameOrder, name)
	}
	sortByLengthDesc(e.stateNameOrder)
	return e
}

// Extract reads the signals carried by one message.
func (e *Extractor) Extract(text string, msgType model.MessageType) Signals {
	var s Signals
	if msgType == model.MessageDocument || msgType == model.MessageImage {
		s.Attributes.DocumentsReceived = true
	}

	folded := Fold(text)
	if folded == "" {
		return s
	}

	s.Attributes.HasPrecatorio = containsAny(folded, e.precatorio) != ""
	s.Attributes.Urgency = containsAny(folded, e.urgency) != ""
	s.Attributes.Interested = containsAny(folded, e.interest) != ""
	if phrase := containsAny(folded, e.handoff); phrase != "" {
		s.HandoffRequested = true
		s.MatchedPhrase = phrase
	}
	s.Attributes.AssetValue = ParseAmount(folded)
	s.Attributes.Region = e.region(folded)
	return s
}

func (e *Extractor) region(folded string) string {
	for _, name := range e.stateNameOrder {
		if wordContains(folded, name) {
			return stateNames[name]
		}
	}
	for i, re := range e.regionCodes {
		if re.MatchString(folded) {
			return e.regionCodeUF[i]
		}
	}
	return ""
}

// ParseAmount returns the largest money amount mentioned in folded text, or 0.
func ParseAmount(folded string) float64 {
	best := 0.0
	for _, m := range currencyRe.FindAllStringSubmatch(folded, -1) {
		whole := strings.ReplaceAll(m[1], ".", "")
		v, err := strconv.ParseFloat(whole, 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			cents, _ := strconv.ParseFloat("0."+m[2], 64)
			v += cents
		}
		if v > best {
			best = v
		}
	}
	for _, m := range magnitudeRe.FindAllStringSubmatch(folded, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "mil", "k":
			v *= 1_000
		case "milhao", "milhoes":
			v *= 1_000_000
		}
		if v > best {
			best = v
		}
	}
	return best
}

// Fold lowercases s and strips diacritics, so "Precatório" matches "precatorio".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func foldAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if f := Fold(t); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// containsAny returns the first term found in text, or "".
func containsAny(text string, terms []string) string {
	for _, t := range terms {
		if wordContains(text, t) {
			return t
		}
	}
	return ""
}

// wordContains reports whether term occurs in text on word boundaries.
func wordContains(text, term string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c >= 0x80)
}

func sortByLengthDesc(items []string) {
	sort.Slice(items, func(i, j int) bool {
		if len(items[i]) != len(items[j]) {
			return len(items[i]) > len(items[j])
		}
		return items[i] < items[j]
	})
}
