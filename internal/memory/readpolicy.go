package memory

import "strings"

// ReadResult is the outcome of filtering stored viewer memory against the
// read policy before any of it can shape a response.
type ReadResult struct {
	Used       bool
	Included   map[string]string
	Suppressed map[string]string
}

// suppressedSlot is never surfaced back at the viewer, even when explicitly
// requested. It lands under Suppressed so the decision stays auditable.
const suppressedSlot = "preferences.dislikes"

// ApplyReadPolicy resolves the requested dotted slots against a viewer's
// stored items. Without explicit context memory is not used at all; missing
// slots are ignored.
func ApplyReadPolicy(items []Item, explicit bool, requestedSlots []string) ReadResult {
	res := ReadResult{Included: map[string]string{}, Suppressed: map[string]string{}}
	if !explicit {
		return res
	}
	res.Used = true

	view := make(map[string]any, len(items))
	for _, it := range items {
		if v, ok := it.Intent["value"]; ok {
			view[it.MemoryKey] = v
		}
	}

	for _, slot := range requestedSlots {
		slot = strings.TrimSpace(slot)
		if slot == "" {
			continue
		}
		value := resolveSlot(view, slot)
		if value == "" {
			continue
		}
		if slot == suppressedSlot {
			res.Suppressed[slot] = value
			continue
		}
		res.Included[slot] = value
	}
	return res
}

// resolveSlot looks up a dotted slot path: an exact item key first, then a
// nested walk for values stored as maps.
func resolveSlot(view map[string]any, slot string) string {
	if v, ok := view[slot]; ok {
		return slotString(v)
	}
	parts := strings.Split(slot, ".")
	cur, ok := view[parts[0]]
	if !ok {
		return ""
	}
	for _, part := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	return slotString(cur)
}

func slotString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
