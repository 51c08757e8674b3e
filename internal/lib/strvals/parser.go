// Package strvals parses the key=value config lines used by the
// --log-output and --traces-output flags, e.g.
// "file=./out.log,level=info" or "otel=http://host:4318/v1/traces,proto=http".
package strvals

import (
	"errors"
	"fmt"
	"strings"
)

// Token is one key=value pair of a config line. Value is empty when the
// pair has no '='.
type Token struct {
	Key   string
	Value string
}

var errEmptyKey = errors.New("key must not be empty")

// Parse splits line on commas into tokens. Values may be wrapped in double
// quotes to contain commas.
func Parse(line string) ([]Token, error) {
	var (
		tokens []Token
		b      strings.Builder
		key    string
		hasKey bool
		quoted bool
	)

	flush := func() error {
		if !hasKey {
			key = b.String()
		}
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w in %q", errEmptyKey, line)
		}
		t := Token{Key: strings.TrimSpace(key)}
		if hasKey {
			t.Value = b.String()
		}
		tokens = append(tokens, t)
		b.Reset()
		key, hasKey = "", false
		return nil
	}

	for _, r := range line {
		switch {
		case r == '"' && hasKey:
			quoted = !quoted
		case quoted:
			b.WriteRune(r)
		case r == '=' && !hasKey:
			key, hasKey = b.String(), true
			b.Reset()
		case r == ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			b.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return tokens, nil
}
