package detector

import (
	"regexp"
	"strings"
)

var spamKeywords = []string{
	"viagra", "cialis", "pharmacy", "casino", "poker", "lottery",
	"loan", "mortgage", "credit", "credit card", "earn money", "work from home",
	"click here", "click now", "buy now", "order now", "limited offer", "limited time",
	"act now", "call now", "free money", "no cost", "risk free",
	"weight loss", "lose weight", "diet pill", "forex", "bitcoin", "crypto",
	"investment", "income", "million dollars", "prince", "nigeria",
	"inheritance", "beneficiary", "congratulations", "winner", "prizes", "gift card",
}

var urgencyWords = []string{
	"urgent", "immediate", "immediately", "now", "today", "hurry",
	"limited", "expires", "expiring", "act fast", "don't miss",
	"last chance", "final notice", "limited time", "only today",
	"expires today", "act immediately", "respond now",
}

var moneyWords = []string{
	"money", "cash", "dollar", "euro", "pound", "prize", "win", "won",
	"million", "thousand", "free", "bonus", "reward", "payment",
	"credit", "bank", "account", "transfer",
	"$", "€", "£", "¥",
}

// Union of the TLDs abused by link spam and by throwaway registrations.
var suspiciousTLDs = []string{
	".ru", ".cn", ".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".club",
}

var shortenerDomains = []string{
	"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly",
	"is.gd", "buff.ly", "adf.ly", "bit.do", "short.link",
}

var phishingPatterns = []string{
	"paypal-secure", "paypal-verify", "paypal-update",
	"amazon-verify", "amazon-security", "amazon-update",
	"apple-support", "apple-verify",
	"account-verify", "account-update", "account-security",
	"security-alert", "security-update",
	"confirm-identity", "verify-identity",
	"suspended-account", "locked-account",
	"unusual-activity", "suspicious-activity",
}

var disposableDomains = []string{
	"tempmail.com", "guerrillamail.com", "guerrillamail.info", "10minutemail.com",
	"mailinator.com", "throwaway.email", "temp-mail.org", "sharklasers.com",
}

var (
	englishStopwords = []string{"the", "is", "are", "was", "were", "have", "has", "will", "can", "this", "that"}
	spanishStopwords = []string{"el", "la", "los", "las", "es", "son", "está", "están", "de", "del"}
)

// wordList matches phrases on word boundaries; entries without any word
// character (currency symbols) match as plain substrings.
type wordList struct {
	patterns []*regexp.Regexp
	symbols  []string
}

func newWordList(words []string) *wordList {
	wl := &wordList{}
	for _, w := range words {
		if regexp.MustCompile(`\w`).MatchString(w) {
			wl.patterns = append(wl.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
		} else {
			wl.symbols = append(wl.symbols, w)
		}
	}
	return wl
}

// count returns how many distinct entries occur in lower-cased text.
func (wl *wordList) count(lower string) int {
	n := 0
	for _, re := range wl.patterns {
		if re.MatchString(lower) {
			n++
		}
	}
	for _, s := range wl.symbols {
		if strings.Contains(lower, s) {
			n++
		}
	}
	return n
}

var (
	spamKeywordList = newWordList(spamKeywords)
	urgencyList     = newWordList(urgencyWords)
	moneyList       = newWordList(moneyWords)
)

func hasSuffixAny(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// matchesDomain reports whether host is one of domains or a subdomain of one.
func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
