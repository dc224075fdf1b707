package config

import (
	"errors"
	"fmt"

	"gopkg.in/ini.v1"
)

// Section names read from the INI file.
const (
	DatabaseSection = "mysql"
	EmailSection    = "email"
)

// ErrSectionNotFound is returned when the INI file has no section of the
// requested name.
var ErrSectionNotFound = errors.New("section not found")

// Section maps option names to their raw string values. Callers parse
// ports, booleans and the like themselves.
type Section map[string]string

// Get returns the value for key, or fallback when the key is absent or empty.
func (s Section) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ReadSection parses the INI file at path and returns the options of the
// named section. Values are kept verbatim: '#' and ';' inside a value and
// surrounding quotes are part of it.
func ReadSection(path, name string) (Section, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:         true,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if !f.HasSection(name) {
		return nil, fmt.Errorf("section %q not found in %s: %w", name, path, ErrSectionNotFound)
	}

	sec := f.Section(name)
	out := make(Section, len(sec.Keys()))
	for _, k := range sec.Keys() {
		out[k.Name()] = k.String()
	}
	return out, nil
}

// ReadDatabase returns the database connection section.
func ReadDatabase(path string) (Section, error) {
	return ReadSection(path, DatabaseSection)
}

// ReadEmail returns the SMTP credentials section.
func ReadEmail(path string) (Section, error) {
	return ReadSection(path, EmailSection)
}
