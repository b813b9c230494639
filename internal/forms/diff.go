package forms

import (
	"fmt"
	"sort"
)

const (
	emptyMarker      = "(empty)"
	redactedPassword = "********"
)

const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
)

// Change is one changelog entry. Kind is set only for whole managers that
// were added or removed.
type Change struct {
	Old  string `json:"old"`
	New  string `json:"new"`
	Kind string `json:"kind,omitempty"`
}

// Changelog maps a field path such as "sectionA.facebook" or
// "sectionB.managers[2].role" to the change recorded for it.
type Changelog map[string]Change

// Paths returns the changed field paths in sorted order.
func (c Changelog) Paths() []string {
	paths := make([]string, 0, len(c))
	for path := range c {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

type trackedField struct {
	path string
	get  func(CompanyProfile) string
}

var trackedProfileFields = []trackedField{
	{"sectionA.companyName", func(p CompanyProfile) string { return p.CompanyName }},
	{"sectionA.facebook", func(p CompanyProfile) string { return p.Facebook }},
	{"sectionA.instagram", func(p CompanyProfile) string { return p.Instagram }},
	{"sectionA.twitter", func(p CompanyProfile) string { return p.Twitter }},
	{"sectionA.other", func(p CompanyProfile) string { return p.Other }},
	{"sectionA.roomDetails", func(p CompanyProfile) string { return p.RoomDetails }},
	{"sectionA.cashoutLimit", func(p CompanyProfile) string { return p.CashoutLimit }},
	{"sectionA.minDeposit", func(p CompanyProfile) string { return p.MinDeposit }},
	{"sectionA.telegramPhone", func(p CompanyProfile) string { return p.TelegramPhone }},
	{"sectionA.scheduleOption", func(p CompanyProfile) string { return p.ScheduleOption }},
	{"sectionA.customSchedule", func(p CompanyProfile) string { return p.CustomSchedule }},
	{"sectionA.logoOption", func(p CompanyProfile) string { return string(p.LogoOption) }},
	{"sectionA.designReferenceText", func(p CompanyProfile) string { return p.DesignReferenceText }},
}

type trackedManagerField struct {
	name     string
	get      func(Manager) string
	redacted bool
}

var trackedManagerFields = []trackedManagerField{
	{name: "username", get: func(m Manager) string { return m.Username }},
	{name: "fullName", get: func(m Manager) string { return m.FullName }},
	{name: "role", get: func(m Manager) string { return string(m.Role) }},
	{name: "email", get: func(m Manager) string { return m.Email }},
	{name: "password", get: func(m Manager) string { return m.Password }, redacted: true},
}

// Diff computes the changelog between two materialized documents. Only the
// known field set is compared; image lists are compared by count and
// password values never appear in the result.
func Diff(old, next FormData) Changelog {
	changes := Changelog{}

	for _, field := range trackedProfileFields {
		before := displayValue(field.get(old.SectionA))
		after := displayValue(field.get(next.SectionA))
		if before != after {
			changes[field.path] = Change{Old: before, New: after}
		}
	}

	diffCount(changes, "sectionA.uploadedLogos", len(old.SectionA.UploadedLogos), len(next.SectionA.UploadedLogos), "image(s)")
	diffCount(changes, "sectionA.designReferenceImages", len(old.SectionA.DesignReferenceImages), len(next.SectionA.DesignReferenceImages), "image(s)")

	oldManagers := old.SectionB.Managers
	newManagers := next.SectionB.Managers
	diffCount(changes, "sectionB.managers.count", len(oldManagers), len(newManagers), "manager(s)")

	total := len(oldManagers)
	if len(newManagers) > total {
		total = len(newManagers)
	}
	for i := 0; i < total; i++ {
		prefix := fmt.Sprintf("sectionB.managers[%d]", i)
		switch {
		case i >= len(newManagers):
			changes[prefix] = Change{Old: describeManager(oldManagers[i]), New: emptyMarker, Kind: ChangeRemoved}
		case i >= len(oldManagers):
			changes[prefix] = Change{Old: emptyMarker, New: describeManager(newManagers[i]), Kind: ChangeAdded}
		default:
			diffManager(changes, prefix, oldManagers[i], newManagers[i])
		}
	}

	return changes
}

func diffManager(changes Changelog, prefix string, before, after Manager) {
	for _, field := range trackedManagerFields {
		oldValue := field.get(before)
		newValue := field.get(after)
		if oldValue == newValue {
			continue
		}
		change := Change{Old: displayValue(oldValue), New: displayValue(newValue)}
		if field.redacted {
			change = Change{Old: redactedPassword, New: redactedPassword}
		}
		changes[prefix+"."+field.name] = change
	}
}

func diffCount(changes Changelog, path string, before, after int, unit string) {
	if before == after {
		return
	}
	changes[path] = Change{
		Old: fmt.Sprintf("%d %s", before, unit),
		New: fmt.Sprintf("%d %s", after, unit),
	}
}

func describeManager(m Manager) string {
	name := m.Username
	if name == "" {
		name = m.FullName
	}
	if name == "" {
		name = "manager"
	}
	if m.Email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, m.Email)
}

func displayValue(value string) string {
	if value == "" {
		return emptyMarker
	}
	return value
}
