package discovery

import "strings"

// Stop-words that never count as meaningful keyword matches. They appear in
// thousands of track titles across all genres and produce noisy matches.
var keywordStopwords = map[string]struct{}{
	"feat": {}, "remix": {}, "edit": {}, "version": {}, "live": {}, "radio": {},
	"official": {}, "audio": {}, "video": {}, "music": {}, "lyric": {},
	"lyrics": {}, "visualizer": {}, "from": {}, "with": {}, "this": {},
	"that": {}, "your": {}, "have": {}, "been": {}, "will": {}, "what": {},
	"when": {}, "where": {}, "they": {}, "them": {}, "than": {}, "into": {},
	"over": {}, "just": {}, "about": {}, "also": {}, "back": {}, "only": {},
	"more": {}, "some": {}, "like": {}, "love": {}, "baby": {}, "yeah": {},
	"part": {}, "prod": {}, "remaster": {}, "remastered": {}, "deluxe": {},
	"bonus": {}, "track": {}, "album": {}, "single": {}, "extended": {},
}

// extractKeywords returns meaningful keywords from a track title
// (lowercase, longer than 3 chars, stop-words removed).
func extractKeywords(title string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, "()[]{}.,!?'\"")
		if len(w) <= 3 {
			continue
		}
		if _, stop := keywordStopwords[w]; stop {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

// keywordOverlap counts the keywords shared by two sets.
func keywordOverlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// genresOverlap reports whether two genre strings share at least one token.
// Genres are stored as comma-separated strings.
func genresOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	tokens := func(s string) map[string]struct{} {
		out := make(map[string]struct{})
		for _, g := range strings.Fields(strings.ReplaceAll(strings.ToLower(s), ",", " ")) {
			g = strings.Trim(g, "\"[]")
			if g != "" {
				out[g] = struct{}{}
			}
		}
		return out
	}
	ta := tokens(a)
	for g := range tokens(b) {
		if _, ok := ta[g]; ok {
			return true
		}
	}
	return false
}

// primaryGenre returns the first genre token for display in reasons.
func primaryGenre(s string) string {
	first, _, _ := strings.Cut(s, ",")
	return strings.Trim(strings.TrimSpace(first), "\"[]")
}
