// Package detector holds the classification core: feature extraction, the
// heuristic rule table, the trained classifier adapter and the hybrid
// predictor that blends them.
package detector

import (
	"bytes"
	"encoding/json"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// FeatureSchemaVersion changes whenever a feature is added, removed or
// redefined. Models trained under another schema are refused at load time.
const FeatureSchemaVersion = "v2"

// featureNames is the ordered schema. Booleans are stored as 0/1.
var featureNames = []string{
	// text shape
	"text_length", "word_count", "avg_word_length",
	"uppercase_ratio", "digit_ratio", "special_char_ratio",
	"exclamation_count", "question_count", "multiple_exclamation", "multiple_question",
	"all_caps_words", "max_word_repetition", "word_repetition_ratio",
	"has_html", "has_script_tags",
	// links
	"url_count", "url_to_text_ratio", "unique_domains", "has_suspicious_tld",
	"suspicious_link_count", "shortened_url_count", "has_phishing_url",
	// lexical
	"spam_keyword_count", "spam_keyword_density", "urgency_word_count", "money_word_count",
	"email_count", "phone_count", "suspicious_email",
	// identity
	"author_length", "author_has_numbers", "author_all_caps", "author_is_short",
	"email_domain_suspicious", "email_has_numbers", "email_length",
	"has_author_url", "author_url_suspicious", "has_email_context", "has_ip_context",
	// behaviour
	"hour_of_day", "is_night_time", "is_weekend", "is_holiday",
	"has_user_agent", "is_bot", "has_referer",
	// language
	"lang_en", "lang_es",
}

var featureIndex = func() map[string]int {
	m := make(map[string]int, len(featureNames))
	for i, n := range featureNames {
		m[n] = i
	}
	return m
}()

// FeatureNames returns a copy of the ordered schema.
func FeatureNames() []string {
	return append([]string(nil), featureNames...)
}

// FeatureVector is an immutable, fixed-schema set of named signals.
type FeatureVector struct {
	values []float64
}

// Get returns the value of name, or 0 for names outside the schema.
func (f FeatureVector) Get(name string) float64 {
	i, ok := featureIndex[name]
	if !ok || i >= len(f.values) {
		return 0
	}
	return f.values[i]
}

// Int returns a count feature.
func (f FeatureVector) Int(name string) int {
	return int(f.Get(name))
}

// Bool returns a flag feature.
func (f FeatureVector) Bool(name string) bool {
	return f.Get(name) != 0
}

// Map copies the vector into a plain map.
func (f FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(featureNames))
	for _, n := range featureNames {
		m[n] = f.Get(n)
	}
	return m
}

// MarshalJSON writes the features in schema order.
func (f FeatureVector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range featureNames {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(n)
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(f.Get(n), 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type featureSet []float64

func (s featureSet) set(name string, v float64) {
	s[featureIndex[name]] = v
}

func (s featureSet) setInt(name string, v int) {
	s.set(name, float64(v))
}

func (s featureSet) flag(name string, b bool) {
	if b {
		s.set(name, 1)
	}
}

// Submission is the read-only view of a comment or form post being classified.
type Submission struct {
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	AuthorURL   string    `json:"author_url"`
	AuthorIP    string    `json:"author_ip"`
	PostID      string    `json:"post_id"`
	UserAgent   string    `json:"user_agent"`
	Referer     string    `json:"referer"`
	SiteID      string    `json:"site_id"`
	Country     string    `json:"country"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	featureURLRe   = regexp.MustCompile(`https?://[^\s]+`)
	featureEmailRe = regexp.MustCompile(`\S+@\S+`)
	featurePhoneRe = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{7,}\d`)
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
	scriptTagRe    = regexp.MustCompile(`(?i)<script`)
	multiBangRe    = regexp.MustCompile(`!{2,}`)
	multiQuestRe   = regexp.MustCompile(`\?{2,}`)
	botUARe        = regexp.MustCompile(`(?i)bot|crawler|spider|scraper`)
	ipv4HostRe     = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
)

// Extractor turns submissions into feature vectors. It is safe for
// concurrent use.
type Extractor struct {
	holidays *HolidayCalendar
	now      func() time.Time
}

func NewExtractor(holidays *HolidayCalendar) *Extractor {
	if holidays == nil {
		holidays = NewHolidayCalendar()
	}
	return &Extractor{holidays: holidays, now: time.Now}
}

// WithClock returns a copy of e that uses now for submissions without a
// creation time.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	c := *e
	c.now = now
	return &c
}

// Extract never fails: missing fields yield neutral values.
func (e *Extractor) Extract(s Submission) FeatureVector {
	fs := make(featureSet, len(featureNames))
	content := s.Content
	lower := strings.ToLower(content)
	length := utf8.RuneCountInString(content)
	words := strings.Fields(content)

	e.textShape(fs, content, lower, length, words)
	urls := featureURLRe.FindAllString(content, -1)
	e.links(fs, urls, length)
	e.lexical(fs, lower, len(words))
	e.identity(fs, s)
	e.behaviour(fs, s)
	e.language(fs, lower)
	return FeatureVector{values: fs}
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return clamp01(float64(n) / float64(d))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Extractor) textShape(fs featureSet, content, lower string, length int, words []string) {
	fs.setInt("text_length", length)
	fs.setInt("word_count", len(words))
	if len(words) > 0 {
		total := 0
		for _, w := range words {
			total += utf8.RuneCountInString(w)
		}
		fs.set("avg_word_length", float64(total)/float64(len(words)))
	}

	// Case is measured on letters outside links so hostnames do not dilute it.
	var letters, upper int
	for _, r := range featureURLRe.ReplaceAllString(content, " ") {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	fs.set("uppercase_ratio", ratio(upper, letters))

	var digits, special int
	for _, r := range content {
		switch {
		case unicode.IsDigit(r):
			digits++
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special++
		}
	}
	fs.set("digit_ratio", ratio(digits, length))
	fs.set("special_char_ratio", ratio(special, length))

	fs.setInt("exclamation_count", strings.Count(content, "!"))
	fs.setInt("question_count", strings.Count(content, "?"))
	fs.setInt("multiple_exclamation", len(multiBangRe.FindAllString(content, -1)))
	fs.setInt("multiple_question", len(multiQuestRe.FindAllString(content, -1)))

	allCaps := 0
	freq := make(map[string]int, len(words))
	maxRep := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) > 1 && isUpperWord(w) {
			allCaps++
		}
		freq[w]++
		if freq[w] > maxRep {
			maxRep = freq[w]
		}
	}
	fs.setInt("all_caps_words", allCaps)
	fs.setInt("max_word_repetition", maxRep)

	lowerWords := strings.Fields(lower)
	if len(lowerWords) > 0 {
		unique := make(map[string]struct{}, len(lowerWords))
		for _, w := range lowerWords {
			unique[w] = struct{}{}
		}
		fs.set("word_repetition_ratio", 1-float64(len(unique))/float64(len(lowerWords)))
	}

	fs.flag("has_html", htmlTagRe.MatchString(content))
	fs.flag("has_script_tags", scriptTagRe.MatchString(content))
}

// isUpperWord: at least one cased letter and no lower-case ones.
func isUpperWord(w string) bool {
	cased := false
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func hostOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

func isSuspiciousHost(host string) bool {
	return matchesDomain(host, shortenerDomains) ||
		ipv4HostRe.MatchString(host) ||
		hasSuffixAny(host, suspiciousTLDs) ||
		strings.Count(host, ".") > 3
}

func (e *Extractor) links(fs featureSet, urls []string, length int) {
	fs.setInt("url_count", len(urls))
	if len(urls) == 0 {
		return
	}

	urlChars := 0
	domains := make(map[string]struct{})
	var suspicious, shortened int
	var badTLD, phishing bool
	for _, raw := range urls {
		urlChars += utf8.RuneCountInString(raw)
		host, ok := hostOf(raw)
		if !ok {
			// Unparseable links are treated as hostile.
			suspicious++
			continue
		}
		domains[host] = struct{}{}
		if hasSuffixAny(host, suspiciousTLDs) {
			badTLD = true
		}
		if isSuspiciousHost(host) {
			suspicious++
		}
		if matchesDomain(host, shortenerDomains) {
			shortened++
		}
		if containsAny(host, phishingPatterns) {
			phishing = true
		}
	}
	fs.set("url_to_text_ratio", ratio(urlChars, length))
	fs.setInt("unique_domains", len(domains))
	fs.flag("has_suspicious_tld", badTLD)
	fs.setInt("suspicious_link_count", suspicious)
	fs.setInt("shortened_url_count", shortened)
	fs.flag("has_phishing_url", phishing)
}

func (e *Extractor) lexical(fs featureSet, lower string, wordCount int) {
	spam := spamKeywordList.count(lower)
	fs.setInt("spam_keyword_count", spam)
	fs.set("spam_keyword_density", ratio(spam, max(wordCount, 1)))
	fs.setInt("urgency_word_count", urgencyList.count(lower))
	fs.setInt("money_word_count", moneyList.count(lower))

	emails := featureEmailRe.FindAllString(lower, -1)
	fs.setInt("email_count", len(emails))
	for _, addr := range emails {
		if at := strings.LastIndex(addr, "@"); at >= 0 && containsAny(addr[at+1:], disposableDomains) {
			fs.flag("suspicious_email", true)
			break
		}
	}
	fs.setInt("phone_count", len(featurePhoneRe.FindAllString(lower, -1)))
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func (e *Extractor) identity(fs featureSet, s Submission) {
	author := strings.TrimSpace(s.Author)
	n := utf8.RuneCountInString(author)
	fs.setInt("author_length", n)
	fs.flag("author_has_numbers", hasDigit(author))
	fs.flag("author_all_caps", n > 0 && isUpperWord(author))
	fs.flag("author_is_short", n < 3)

	if email := strings.TrimSpace(s.AuthorEmail); email != "" {
		fs.flag("has_email_context", true)
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			domain := strings.ToLower(parts[1])
			fs.flag("email_domain_suspicious", matchesDomain(domain, disposableDomains))
			fs.flag("email_has_numbers", hasDigit(parts[0]))
			fs.setInt("email_length", utf8.RuneCountInString(email))
		} else {
			fs.flag("email_domain_suspicious", true)
		}
	}

	if raw := strings.TrimSpace(s.AuthorURL); raw != "" {
		fs.flag("has_author_url", true)
		host, ok := hostOf(raw)
		fs.flag("author_url_suspicious", !ok || hasSuffixAny(host, suspiciousTLDs))
	}

	fs.flag("has_ip_context", net.ParseIP(strings.TrimSpace(s.AuthorIP)) != nil)
}

func (e *Extractor) behaviour(fs featureSet, s Submission) {
	t := s.CreatedAt
	if t.IsZero() {
		t = e.now()
	}
	hour := t.Hour()
	fs.setInt("hour_of_day", hour)
	fs.flag("is_night_time", hour < 6)
	fs.flag("is_weekend", t.Weekday() == time.Saturday || t.Weekday() == time.Sunday)
	fs.flag("is_holiday", e.holidays.IsHoliday(t, s.Country))

	if ua := strings.TrimSpace(s.UserAgent); ua != "" {
		fs.flag("has_user_agent", true)
		fs.flag("is_bot", botUARe.MatchString(ua))
	}
	fs.flag("has_referer", strings.TrimSpace(s.Referer) != "")
}

// language is a two-bucket stopword vote; neither flag set means unknown.
func (e *Extractor) language(fs featureSet, lower string) {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) }) {
		tokens[tok] = struct{}{}
	}
	hits := func(words []string) int {
		n := 0
		for _, w := range words {
			if _, ok := tokens[w]; ok {
				n++
			}
		}
		return n
	}
	switch {
	case hits(englishStopwords) >= 2:
		fs.flag("lang_en", true)
	case hits(spanishStopwords) >= 2:
		fs.flag("lang_es", true)
	}
}

// Language returns "en", "es" or "unknown".
func (f FeatureVector) Language() string {
	switch {
	case f.Bool("lang_en"):
		return "en"
	case f.Bool("lang_es"):
		return "es"
	}
	return "unknown"
}
