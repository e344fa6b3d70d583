// Package recipient normalizes campaign recipients: resolving their email
// address, filling {{field}} templates, and loading recipient lists.
package recipient

import (
	"regexp"
	"strings"

	"github.com/shineum/mail-dispatch/internal/mailerr"
)

// Recipient is one row of a recipient list, keyed by field name.
type Recipient map[string]string

// EmailKeys are the field names checked, in order, for a recipient's address.
var EmailKeys = []string{"email", "Email", "EMAIL", "e-mail", "E-mail"}

// Email returns the recipient's address from the first non-empty EmailKeys
// field. It fails with a *mailerr.ValidationError when no field is set or
// the value has no "@".
func (r Recipient) Email() (string, error) {
	for _, key := range EmailKeys {
		v := strings.TrimSpace(r[key])
		if v == "" {
			continue
		}
		if !strings.Contains(v, "@") {
			return "", &mailerr.ValidationError{Field: key, Reason: "address " + v + " has no @"}
		}
		return v, nil
	}
	return "", &mailerr.ValidationError{Reason: "no email field"}
}

// First returns the first non-empty value among keys.
func (r Recipient) First(keys ...string) string {
	for _, k := range keys {
		if v := r[k]; v != "" {
			return v
		}
	}
	return ""
}

var tagPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Fill replaces every {{field}} token in tpl with the recipient's value for
// field, or "" when the field is absent. Substitution is a single pass:
// values are inserted literally and never scanned for further tokens.
func (r Recipient) Fill(tpl string) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return tagPattern.ReplaceAllStringFunc(tpl, func(tag string) string {
		return r[tag[2:len(tag)-2]]
	})
}
