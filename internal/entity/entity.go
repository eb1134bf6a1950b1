// Package entity extracts payment-domain entities (merchants, gateways,
// banks, error codes) from free text. The retriever uses it for priority
// boosts, the validator for overlap scoring, and the router for the
// out-of-domain probe, so all three see identical extraction semantics.
package entity

import (
	"regexp"
	"sort"
	"strings"
)

// Fixed vocabularies, maintained alongside the corpus. Matching is
// case-insensitive on word boundaries: "Snapdeal" in prose counts,
// "discard" does not count as "card".
var (
	merchants = []string{
		"snapdeal", "firstcry", "mobikwik", "citymall", "flipkart", "amazon",
	}
	gateways = []string{
		"pinelabs", "payu", "razorpay", "checkout", "stripe",
		"cashfree", "phonepe", "gpay", "amazonpay",
	}
	banks = []string{
		"hdfc", "axis", "icici", "sbi", "kotak",
	}

	// errorTerms are exact technical terms that carry strong signal when
	// they co-occur in query and incident.
	errorTerms = []string{
		"messagenotrecognized", "pkcs15", "rsa", "ssl", "tls",
		"internal_server_error", "timeout", "webhook", "callback",
		"tokenization", "encryption", "decryption", "signature",
		"authentication", "authorization", "validation",
	}
)

var (
	merchantRe = vocabPattern(merchants)
	bankRe     = vocabPattern(banks)
	errorRe    = vocabPattern(errorTerms)

	// Gateway mentions often carry a qualifier suffix (pinelabs-online,
	// payu_gateway, razorpay pg); the capture group is the bare name.
	gatewayRe = regexp.MustCompile(`(?i)\b(` + strings.Join(gateways, "|") +
		`)(?:[\s_-]*(?:online|gateway|bank|pg))?\b`)
)

func vocabPattern(terms []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(terms, "|") + `)\b`)
}

// Merchant returns the first merchant named in text, lowercased, or "".
func Merchant(text string) string {
	return strings.ToLower(merchantRe.FindString(text))
}

// Gateway returns the first gateway named in text with any qualifier
// suffix stripped, lowercased, or "".
func Gateway(text string) string {
	m := gatewayRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// Entities returns every known entity mentioned in text: merchants,
// gateways, banks, and exact technical terms. Sorted, deduplicated,
// lowercased.
func Entities(text string) []string {
	seen := map[string]bool{}
	for _, m := range merchantRe.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = true
	}
	for _, m := range gatewayRe.FindAllStringSubmatch(text, -1) {
		seen[strings.ToLower(m[1])] = true
	}
	for _, m := range bankRe.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = true
	}
	for _, m := range errorRe.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = true
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Overlap is the fraction of query entities also present in the candidate:
// |Q∩C| / max(|Q|, 1). A query with no entities overlaps nothing.
func Overlap(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	in := make(map[string]bool, len(candidate))
	for _, c := range candidate {
		in[c] = true
	}
	n := 0
	for _, q := range query {
		if in[q] {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

// Domain is the payment sub-domain a text is predominantly about.
type Domain string

const (
	DomainWallet  Domain = "wallet"
	DomainCard    Domain = "card"
	DomainUPI     Domain = "upi"
	DomainWebhook Domain = "webhook"
	DomainGateway Domain = "gateway"
	DomainGeneral Domain = "general"
)

// domainMarkers are checked in order; the first domain with a marker in
// the text wins. Order matters: wallet brands before the generic
// gateway/api bucket.
var domainMarkers = []struct {
	domain Domain
	re     *regexp.Regexp
}{
	{DomainWallet, vocabPattern([]string{"wallet", "mobikwik", "paytm", "phonepe_wallet", "amazonpay"})},
	{DomainCard, vocabPattern([]string{"card", "cards", "visa", "mastercard", "debit", "credit", "tokenization"})},
	{DomainUPI, vocabPattern([]string{"upi", "bhim", "gpay", "phonepe_upi"})},
	{DomainWebhook, vocabPattern([]string{"webhook", "webhooks", "callback", "callbacks", "notification", "notifications"})},
	{DomainGateway, vocabPattern([]string{"gateway", "gateways", "api", "integration"})},
}

// DomainOf classifies text into its dominant payment sub-domain.
func DomainOf(text string) Domain {
	for _, m := range domainMarkers {
		if m.re.MatchString(text) {
			return m.domain
		}
	}
	return DomainGeneral
}

// adjacent lists domains that are related without being identical. The
// gateway domain brokers every flow, so it neighbours everything; the
// concrete flows neighbour only gateway and general.
var adjacent = map[Domain][]Domain{
	DomainWallet:  {DomainGateway, DomainGeneral},
	DomainCard:    {DomainGateway, DomainGeneral},
	DomainUPI:     {DomainGateway, DomainGeneral},
	DomainWebhook: {DomainGateway, DomainGeneral},
	DomainGateway: {DomainWallet, DomainCard, DomainUPI, DomainWebhook, DomainGeneral},
	DomainGeneral: {DomainGateway},
}

// Compatibility scores two domains: 1 identical, 0.5 adjacent, 0 unrelated.
func Compatibility(query, candidate Domain) float64 {
	if query == candidate {
		return 1
	}
	for _, d := range adjacent[query] {
		if d == candidate {
			return 0.5
		}
	}
	return 0
}

var troubleshootingRe = regexp.MustCompile(
	`(?i)\b(?:failed|failing|stuck|errors?|timeouts?|timed\s+out|timing\s+out|blocked)\b`)

// Troubleshooting reports whether text expresses a troubleshooting intent,
// i.e. describes something going wrong rather than asking how to build.
func Troubleshooting(text string) bool {
	return troubleshootingRe.MatchString(text)
}
