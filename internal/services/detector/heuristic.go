package detector

import (
	"fmt"
	"math"
)

// Rule is one entry of the heuristic table. The same record drives scoring
// and the explanation shown to operators.
type Rule struct {
	Name      string
	When      func(FeatureVector) bool
	Increment func(FeatureVector) float64
	Reason    func(FeatureVector) string
}

func fixed(v float64) func(FeatureVector) float64 {
	return func(FeatureVector) float64 { return v }
}

func text(s string) func(FeatureVector) string {
	return func(FeatureVector) string { return s }
}

func flagSet(name string) func(FeatureVector) bool {
	return func(f FeatureVector) bool { return f.Bool(name) }
}

// FlagPhishingURL names the override rule.
const FlagPhishingURL = "phishing_url"

const (
	fallbackSpamReason = "General suspicious pattern detected"
	fallbackHamReason  = "General legitimate pattern detected"
)

var phishingRule = Rule{
	Name:   FlagPhishingURL,
	When:   flagSet("has_phishing_url"),
	Reason: text("Links to a domain impersonating a known brand or account page"),
}

// spamRules are listed in explanation priority order.
var spamRules = []Rule{
	{
		Name:      "spam_keywords",
		When:      func(f FeatureVector) bool { return f.Int("spam_keyword_count") > 0 },
		Increment: func(f FeatureVector) float64 { return 0.10 * f.Get("spam_keyword_count") },
		Reason: func(f FeatureVector) string {
			return fmt.Sprintf("Contains %d typical spam keywords", f.Int("spam_keyword_count"))
		},
	},
	{
		Name:      "excessive_links",
		When:      func(f FeatureVector) bool { return f.Int("url_count") > 3 },
		Increment: fixed(0.30),
		Reason:    func(f FeatureVector) string { return fmt.Sprintf("Too many links (%d)", f.Int("url_count")) },
	},
	{
		Name:      "links",
		When:      func(f FeatureVector) bool { n := f.Int("url_count"); return n > 0 && n <= 3 },
		Increment: fixed(0.10),
		Reason:    func(f FeatureVector) string { return fmt.Sprintf("Contains %d links", f.Int("url_count")) },
	},
	{
		Name:      "suspicious_links",
		When:      func(f FeatureVector) bool { return f.Int("suspicious_link_count") > 0 },
		Increment: fixed(0.20),
		Reason:    text("Links to domains with suspicious extensions or shorteners"),
	},
	{
		Name:      "excessive_caps",
		When:      func(f FeatureVector) bool { return f.Get("uppercase_ratio") > 0.3 },
		Increment: fixed(0.30),
		Reason: func(f FeatureVector) string {
			return fmt.Sprintf("Excessive capital letters (%d%%)", int(math.Round(f.Get("uppercase_ratio")*100)))
		},
	},
	{
		Name:      "urgency_words",
		When:      func(f FeatureVector) bool { return f.Int("urgency_word_count") > 0 },
		Increment: fixed(0.25),
		Reason:    text("Uses urgency language"),
	},
	{
		Name:      "money_words",
		When:      func(f FeatureVector) bool { return f.Int("money_word_count") > 0 },
		Increment: fixed(0.25),
		Reason:    text("Mentions money, prizes or payments"),
	},
	{
		Name:      "disposable_email",
		When:      func(f FeatureVector) bool { return f.Bool("email_domain_suspicious") || f.Bool("suspicious_email") },
		Increment: fixed(0.20),
		Reason:    text("Uses a disposable e-mail service"),
	},
	{
		Name:      "bot_user_agent",
		When:      flagSet("is_bot"),
		Increment: fixed(0.30),
		Reason:    text("User agent identifies as a bot"),
	},
	{
		Name:      "html",
		When:      flagSet("has_html"),
		Increment: fixed(0.15),
		Reason:    text("Contains HTML markup"),
	},
	{
		Name:      "script_tag",
		When:      flagSet("has_script_tags"),
		Increment: fixed(0.20),
		Reason:    text("Contains a script tag"),
	},
	{
		Name:      "special_chars",
		When:      func(f FeatureVector) bool { return f.Get("special_char_ratio") > 0.3 },
		Increment: fixed(0.20),
		Reason:    text("Excessive special characters"),
	},
	{
		Name:      "night_time",
		When:      flagSet("is_night_time"),
		Increment: fixed(0.10),
		Reason:    text("Posted during night hours"),
	},
}

// hamRules explain a "not spam" verdict. They never contribute to the score.
var hamRules = []Rule{
	{When: func(f FeatureVector) bool { return f.Int("spam_keyword_count") == 0 }, Reason: text("No typical spam keywords")},
	{When: func(f FeatureVector) bool { return f.Int("url_count") == 0 }, Reason: text("No promotional links")},
	{When: func(f FeatureVector) bool { return f.Int("text_length") > 100 }, Reason: text("Substantial, detailed comment")},
	{When: func(f FeatureVector) bool { return !f.Bool("is_bot") }, Reason: text("Legitimate user agent")},
	{When: func(f FeatureVector) bool { return !f.Bool("email_domain_suspicious") }, Reason: text("E-mail from a trusted domain")},
}

// HeuristicResult is the outcome of the rule table.
type HeuristicResult struct {
	Score    float64  `json:"score"`
	Phishing bool     `json:"phishing"`
	Flags    []string `json:"flags"`
	Reasons  []string `json:"reasons"`
}

// HeuristicScorer evaluates the rule table.
type HeuristicScorer struct {
	override Rule
	rules    []Rule
	ham      []Rule
}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{override: phishingRule, rules: spamRules, ham: hamRules}
}

// Score sums the increments of every rule that fires and clamps to [0,1].
func (h *HeuristicScorer) Score(f FeatureVector) HeuristicResult {
	res := HeuristicResult{Flags: []string{}}
	if h.override.When(f) {
		res.Phishing = true
		res.Flags = append(res.Flags, h.override.Name)
	}
	var sum float64
	for _, r := range h.rules {
		if r.When(f) {
			sum += r.Increment(f)
			res.Flags = append(res.Flags, r.Name)
		}
	}
	res.Score = clamp01(sum)
	res.Reasons = h.Explain(f, true)
	return res
}

// Explain lists the reasons for a spam (or not spam) verdict in rule order.
// The result is never empty.
func (h *HeuristicScorer) Explain(f FeatureVector, spam bool) []string {
	var reasons []string
	if spam {
		if h.override.When(f) {
			reasons = append(reasons, h.override.Reason(f))
		}
		for _, r := range h.rules {
			if r.When(f) {
				reasons = append(reasons, r.Reason(f))
			}
		}
		if len(reasons) == 0 {
			reasons = append(reasons, fallbackSpamReason)
		}
		return reasons
	}
	for _, r := range h.ham {
		if r.When(f) {
			reasons = append(reasons, r.Reason(f))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fallbackHamReason)
	}
	return reasons
}
