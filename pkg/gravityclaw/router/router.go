// Package router picks the model tier for a turn from the user's message.
// Rules are evaluated in order and the first match wins.
package router

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

// Tier names a class of model.
type Tier string

const (
	TierCreative Tier = "creative"
	TierCoding   Tier = "coding"
	TierVision   Tier = "vision"
	TierStandard Tier = "standard"
)

// HistoryThreshold is the history length above which every turn goes to the
// coding tier, since long sessions tend to be multi-step work.
const HistoryThreshold = 10

var (
	creativePattern = regexp.MustCompile(`(schreibe|umschreiben|gedicht|geschichte|witz|kreativ)`)
	visionPattern   = regexp.MustCompile(`(analyse|prüfe|schau dir an|bild|screenshot|generiere|erstelle bild|zeichne)`)

	codingKeywords = []string{
		"refactor", "umstrukturieren", "komplexe logik", "fix deep bug",
		"implementiere feature", "architektur", "api", "backend", "crud", "komplex",
	}
	codingPhrases = []string{"code-analyse", "debugging"}
)

// Models maps tiers to model ids.
type Models struct {
	Creative string `yaml:"creative"`
	Coding   string `yaml:"coding"`
	Vision   string `yaml:"vision"`
	Standard string `yaml:"standard"`
}

// DefaultModels returns the stock tier table.
func DefaultModels() Models {
	return Models{
		Creative: "openrouter/anthropic/claude-3-haiku:beta",
		Coding:   "gemini-2.5-pro",
		Vision:   "gemini-2.5-pro",
		Standard: "gemini-2.5-flash",
	}
}

// Router selects a model id per turn.
type Router struct {
	models Models
	logger *slog.Logger
}

// New creates a router. Empty tier entries fall back to DefaultModels.
func New(models Models, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultModels()
	if models.Creative == "" {
		models.Creative = def.Creative
	}
	if models.Coding == "" {
		models.Coding = def.Coding
	}
	if models.Vision == "" {
		models.Vision = def.Vision
	}
	if models.Standard == "" {
		models.Standard = def.Standard
	}
	return &Router{models: models, logger: logger.With("component", "router")}
}

// Classify returns the tier for message given the current history.
func Classify(message string, history []llm.Message) Tier {
	content := strings.ToLower(message)

	if creativePattern.MatchString(content) && !strings.Contains(content, "code") {
		return TierCreative
	}

	if len(history) > HistoryThreshold || containsAny(content, codingKeywords) || containsAny(content, codingPhrases) {
		return TierCoding
	}

	if visionPattern.MatchString(content) {
		return TierVision
	}

	return TierStandard
}

// Select returns the model id for the turn.
func (r *Router) Select(message string, history []llm.Message) string {
	tier := Classify(message, history)
	model := r.Model(tier)
	r.logger.Debug("model selected", "tier", tier, "model", model, "history", len(history))
	return model
}

// Model returns the configured model id for tier.
func (r *Router) Model(tier Tier) string {
	switch tier {
	case TierCreative:
		return r.models.Creative
	case TierCoding:
		return r.models.Coding
	case TierVision:
		return r.models.Vision
	default:
		return r.models.Standard
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
