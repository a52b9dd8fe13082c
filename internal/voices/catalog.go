// Package voices holds the static voice catalog supported by the engine.
package voices

import (
	"fmt"
	"sort"
)

// Catalog maps a language family to its supported voice identifiers.
var Catalog = map[string][]string{
	"Japanese":         {"jf_alpha", "jm_kumo"},
	"American English": {"af_heart", "af_bella", "af_nova", "af_sky", "am_adam", "am_echo"},
	"British English":  {"bf_alice", "bf_emma", "bm_daniel", "bm_george"},
	"Chinese":          {"zf_xiaobei", "zm_yunxi"},
}

// CustomSpeakers are multilingual speaker profiles usable with any
// supported language family. They take a free-form instruct prompt
// steering emotion and delivery.
var CustomSpeakers = []string{
	"Aiden", "Dylan", "Eric", "Ono_Anna", "Ryan", "Serena", "Sohee", "Vivian",
}

// LangCodes maps a language family to the engine's short language code.
var LangCodes = map[string]string{
	"Japanese":         "j",
	"American English": "a",
	"British English":  "b",
	"Chinese":          "z",
}

// Validate checks that language is a known family and voice belongs to
// it or is a custom speaker.
func Validate(voice, language string) error {
	family, ok := Catalog[language]
	if !ok {
		return fmt.Errorf("unknown language %q", language)
	}
	for _, v := range family {
		if v == voice {
			return nil
		}
	}
	for _, v := range CustomSpeakers {
		if v == voice {
			return nil
		}
	}
	return fmt.Errorf("unknown voice %q for language %q", voice, language)
}

// LangCode resolves the engine language code, falling back to Japanese.
func LangCode(language string) string {
	if code, ok := LangCodes[language]; ok {
		return code
	}
	return "j"
}

// Languages returns the supported language families in sorted order.
func Languages() []string {
	names := make([]string, 0, len(Catalog))
	for name := range Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every voice identifier, family voices and custom
// speakers alike, in sorted order.
func All() []string {
	var all []string
	for _, family := range Catalog {
		all = append(all, family...)
	}
	all = append(all, CustomSpeakers...)
	sort.Strings(all)
	return all
}
