package actions

import "sort"

// Entry describes one catalog operation for listings.
type Entry struct {
	Ref      string
	Kind     string // "action" or "probe"
	Summary  string
	Required []string
	Optional map[string]string
}

// Catalog returns every built-in action and probe, sorted by
// reference, for the CLI listing.
func Catalog() []Entry {
	entries := make([]Entry, 0, len(actionCatalog)+len(probeCatalog))
	for ref, e := range actionCatalog {
		entries = append(entries, Entry{
			Ref:      ref,
			Kind:     "action",
			Summary:  e.summary,
			Required: e.required,
			Optional: e.optional,
		})
	}
	for ref, e := range probeCatalog {
		entries = append(entries, Entry{
			Ref:      ref,
			Kind:     "probe",
			Summary:  e.summary,
			Required: e.required,
			Optional: e.optional,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Ref != entries[j].Ref {
			return entries[i].Ref < entries[j].Ref
		}
		return entries[i].Kind < entries[j].Kind
	})
	return entries
}
