package detector

import (
	"regexp"
	"strconv"
	"strings"

	"MirrorTrader/internal/domain/models"
)

// DefaultSymbols are the futures roots recognized out of the box.
var DefaultSymbols = []string{"ES", "NQ", "YM", "RTY", "CL", "GC", "SI", "MES", "MNQ", "MYM", "M2K"}

var (
	reEntry  = regexp.MustCompile(`(?i)\b(buy(ing)?|bought|long(ing)?|short(ing|ed)?|enter(ing|ed)?|taking a (long|short))\b`)
	reExit   = regexp.MustCompile(`(?i)\b(sell(ing)?|sold|clos(e|ed|ing)( out)?|flat(ten(ed|ing)?)?|out of|exit(ed|ing)?|took profit)\b`)
	reStop   = regexp.MustCompile(`(?i)\bstop(\s*loss)?\s*(to|at|moved)?\b`)
	reTarget = regexp.MustCompile(`(?i)\b(target(ing)?|tp)\b`)
	reAlert  = regexp.MustCompile(`(?i)\b(watch(ing)?|looking at|setting up|setup on)\b`)

	reLong  = regexp.MustCompile(`(?i)\b(long(ing)?|buy(ing)?|bought)\b`)
	reShort = regexp.MustCompile(`(?i)\bshort(ing|ed)?\b`)

	rePrice = regexp.MustCompile(`(?i)(?:at|@|to)\s*\$?([0-9]{2,6}(?:\.[0-9]+)?)`)
	reSize  = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(?:lots?|contracts?|cars?)\b`)
)

// role trust: the streamer announcing their own trade is near-certain,
// moderators relay reliably, random chat is noise more often than not.
var roleTrust = map[models.SourceRole]float64{
	models.RoleOwner:     0.9,
	models.RoleModerator: 0.75,
	models.RoleViewer:    0.5,
}

// RegexVerbalDetector extracts trade signals from chat/transcript lines
// with pattern matching. Partial parses are still emitted: a signal with a
// missing symbol or price acts as a wildcard during correlation.
type RegexVerbalDetector struct {
	symbols []string
}

// NewVerbalDetector builds a detector for the given symbol roots; nil means
// DefaultSymbols.
func NewVerbalDetector(symbols []string) *RegexVerbalDetector {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	return &RegexVerbalDetector{symbols: symbols}
}

// Parse classifies one chat line. The boolean is false when the line does
// not look like a trade signal at all.
func (d *RegexVerbalDetector) Parse(msg models.ChatMessage) (*models.VerbalSignal, bool) {
	text := msg.Text
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	kind, ok := classify(text)
	if !ok {
		return nil, false
	}

	sig := &models.VerbalSignal{
		StreamID:   msg.StreamID,
		Kind:       kind,
		RawText:    text,
		ObservedAt: msg.SentAt,
	}
	sig.Symbol = d.findSymbol(text)
	sig.Direction = findDirection(text, kind)
	if m := rePrice.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			sig.Price = &v
		}
	}
	if m := reSize.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			sig.Size = &v
		}
	}

	conf, ok := roleTrust[msg.Role]
	if !ok {
		conf = roleTrust[models.RoleViewer]
	}
	// partial parses carry less weight
	if sig.Symbol == "" {
		conf *= 0.85
	}
	if kind == models.SignalAlert {
		conf *= 0.8
	}
	sig.Confidence = conf
	return sig, true
}

// classify picks the signal kind. Exit phrasing wins over entry phrasing
// because "sold my short" names both; the action verb decides.
func classify(text string) (models.SignalKind, bool) {
	switch {
	case reStop.MatchString(text) && !reEntry.MatchString(text):
		return models.SignalStop, true
	case reTarget.MatchString(text) && !reEntry.MatchString(text) && !reExit.MatchString(text):
		return models.SignalTarget, true
	case reExit.MatchString(text):
		return models.SignalExit, true
	case reEntry.MatchString(text):
		return models.SignalEntry, true
	case reAlert.MatchString(text):
		return models.SignalAlert, true
	default:
		return "", false
	}
}

func (d *RegexVerbalDetector) findSymbol(text string) string {
	for _, sym := range d.symbols {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(sym) + `\b`)
		if re.MatchString(text) {
			return strings.ToUpper(sym)
		}
	}
	return ""
}

func findDirection(text string, kind models.SignalKind) models.Direction {
	if reShort.MatchString(text) {
		return models.DirectionShort
	}
	if reLong.MatchString(text) {
		return models.DirectionLong
	}
	// "buying" on an entry implies long; on an exit it is just the verb
	if kind == models.SignalEntry && regexp.MustCompile(`(?i)\b(buy(ing)?|bought)\b`).MatchString(text) {
		return models.DirectionLong
	}
	return ""
}
