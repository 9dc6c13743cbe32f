package core

import "fmt"

// Claims is the decoded payload of a verified identity token.
// Values are kept exactly as they were in the token.
type Claims map[string]any

func (c Claims) Issuer() string {
	return c.String("iss")
}

func (c Claims) Subject() string {
	return c.String("sub")
}

// String returns the claim as a string, or "" if it is missing or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Audience returns the 'aud' claim, which may be either a string or a list of strings.
func (c Claims) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (c Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience() {
		if a == aud {
			return true
		}
	}
	return false
}

// Principal is the caller identity derived from the claims.
type Principal struct {
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
}

func (c Claims) Principal() Principal {
	return Principal{
		Issuer:  c.Issuer(),
		Subject: c.Subject(),
	}
}

func (p Principal) String() string {
	return fmt.Sprintf("%s (%s)", p.Subject, p.Issuer)
}
