package policy

import "strings"

// ParsePolicy splits a serialized policy into directive key → value. Keys
// are lower-cased and values have their whitespace collapsed. As in
// browsers, the first occurrence of a repeated directive wins.
func ParsePolicy(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = strings.Join(fields[1:], " ")
	}
	return out
}

// NonceEnabledDirectives returns the directives of a serialized policy whose
// value carries a 'nonce-…' source.
func NonceEnabledDirectives(s string) map[string]bool {
	out := make(map[string]bool)
	for k, v := range ParsePolicy(s) {
		if strings.Contains(v, "'nonce-") {
			out[k] = true
		}
	}
	return out
}

// Nonces returns the nonce values allowed by directive key in a serialized
// policy.
func Nonces(s, key string) []string {
	var out []string
	for _, tok := range strings.Fields(ParsePolicy(s)[key]) {
		if strings.HasPrefix(tok, "'nonce-") && strings.HasSuffix(tok, "'") && len(tok) > len("'nonce-'") {
			out = append(out, tok[len("'nonce-"):len(tok)-1])
		}
	}
	return out
}
