package gateway

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// placeholderPattern matches ":name" tokens that follow a path separator.
var placeholderPattern = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*`)

// Expand substitutes every placeholder of template in a single pass. Values
// are path-escaped and never rescanned, so each occurrence is replaced exactly
// once. A placeholder without a value yields ErrUnresolvedPlaceholder.
func Expand(template string, params map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		value, ok := params[token]
		if !ok {
			missing = append(missing, token)
			return token
		}
		return url.PathEscape(value)
	})
	if len(missing) > 0 {
		return "", &Error{
			Kind:    KindContract,
			Message: fmt.Sprintf("template %q: %s", template, strings.Join(missing, ", ")),
			Err:     ErrUnresolvedPlaceholder,
		}
	}
	return out, nil
}

// Placeholders lists the tokens declared by template in order of appearance.
func Placeholders(template string) []string {
	return placeholderPattern.FindAllString(template, -1)
}
