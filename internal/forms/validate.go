package forms

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

// ValidationError lists the offending fields of a payload keyed by the same
// paths used in changelogs.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	paths := make([]string, 0, len(e.Fields))
	for path := range e.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return fmt.Sprintf("validation failed: %s: %s", paths[0], e.Fields[paths[0]])
}

// Validate checks the shape of an incoming payload. Absent fields are never
// an error; only supplied values are checked.
func Validate(p PartialFormData) error {
	fields := map[string]string{}

	if a := p.SectionA; a != nil {
		socials := []struct {
			path  string
			value *string
		}{
			{"sectionA.facebook", a.Facebook},
			{"sectionA.instagram", a.Instagram},
			{"sectionA.twitter", a.Twitter},
			{"sectionA.other", a.Other},
		}
		for _, social := range socials {
			if social.value == nil || strings.TrimSpace(*social.value) == "" {
				continue
			}
			if !isHTTPURL(strings.TrimSpace(*social.value)) {
				fields[social.path] = "must be a valid http(s) URL"
			}
		}
		if a.LogoOption != nil && *a.LogoOption != "" {
			if _, ok := allowedLogoOptions[LogoOption(*a.LogoOption)]; !ok {
				fields["sectionA.logoOption"] = "must be one of has-logo, needs-logo, none"
			}
		}
		if a.ScheduleOption != nil {
			if _, ok := allowedScheduleOptions[*a.ScheduleOption]; !ok {
				fields["sectionA.scheduleOption"] = "must be 24-7 or custom"
			}
		}
	}

	if b := p.SectionB; b != nil {
		for i, manager := range b.Managers {
			prefix := fmt.Sprintf("sectionB.managers[%d]", i)
			if len(strings.TrimSpace(manager.Username)) < 3 {
				fields[prefix+".username"] = "must be at least 3 characters long"
			}
			if !emailPattern.MatchString(manager.Email) {
				fields[prefix+".email"] = "must be a valid email address"
			}
			if _, ok := allowedRoles[manager.Role]; !ok {
				fields[prefix+".role"] = "must be one of Admin, Supervisor, Observer"
			}
			if msg := passwordProblem(manager.Password); msg != "" {
				fields[prefix+".password"] = msg
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func isHTTPURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func passwordProblem(password string) string {
	if len(password) < 8 {
		return "must be at least 8 characters long"
	}
	hasDigit := false
	for _, r := range password {
		if unicode.IsDigit(r) {
			hasDigit = true
			break
		}
	}
	if !hasDigit {
		return "must contain at least 1 number"
	}
	if !strings.ContainsAny(password, passwordSpecials) {
		return "must contain at least 1 special character"
	}
	return ""
}
