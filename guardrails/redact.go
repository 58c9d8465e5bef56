package guardrails

import (
	"cmp"
	"slices"
)

// ResolveOverlaps merges every group of transitively overlapping items into a
// single item covering the union of their spans. The group winner is the item
// with the highest severity, then the longest span, then the earliest start;
// its category decides how the union is masked. Items must be valid for text.
// The result is sorted by start ascending and contains no overlapping spans.
func ResolveOverlaps(text string, items []LeakItem) []LeakItem {
	if len(items) == 0 {
		return nil
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b LeakItem) int {
		if c := cmp.Compare(a.Span().Start, b.Span().Start); c != 0 {
			return c
		}
		return cmp.Compare(b.Span().End, a.Span().End)
	})

	out := make([]LeakItem, 0, len(sorted))
	var (
		group []LeakItem
		union Span
	)
	flush := func() {
		switch len(group) {
		case 0:
		case 1:
			out = append(out, group[0])
		default:
			out = append(out, mergeGroup(text, group, union))
		}
	}
	for _, it := range sorted {
		sp := it.Span()
		if len(group) > 0 && sp.Start < union.End {
			group = append(group, it)
			union.End = max(union.End, sp.End)
			continue
		}
		flush()
		group = []LeakItem{it}
		union = sp
	}
	flush()
	return out
}

func mergeGroup(text string, group []LeakItem, union Span) LeakItem {
	winner := group[0]
	for _, it := range group[1:] {
		if c := compareSeverity(it.Severity, winner.Severity); c != 0 {
			if c > 0 {
				winner = it
			}
			continue
		}
		if it.Span().Len() > winner.Span().Len() {
			winner = it
		}
	}

	merged := winner
	merged.Spans = []Span{union}
	merged.OriginalValue = text[union.Start:union.End]
	if winner.Kind == LeakKindFiltered {
		merged.MaskedValue = winner.MaskedValue
	} else {
		merged.MaskedValue = Mask(winner.Category, merged.OriginalValue)
	}
	merged.Evidence = merged.MaskedValue
	return merged
}

// Redact replaces each item's span with its masked value. Overlaps are
// resolved first, then spans are spliced from the rightmost start leftwards
// so offsets of unprocessed spans stay valid. Items whose span is out of
// range or whose OriginalValue no longer matches text are skipped; the number
// skipped is returned.
func Redact(text string, items []LeakItem) (string, int) {
	valid := make([]LeakItem, 0, len(items))
	skipped := 0
	for _, it := range items {
		sp := it.Span()
		if !sp.Valid(len(text)) || text[sp.Start:sp.End] != it.OriginalValue {
			skipped++
			continue
		}
		valid = append(valid, it)
	}

	resolved := ResolveOverlaps(text, valid)
	slices.SortFunc(resolved, func(a, b LeakItem) int {
		return cmp.Compare(b.Span().Start, a.Span().Start)
	})

	out := text
	for _, it := range resolved {
		sp := it.Span()
		out = out[:sp.Start] + it.MaskedValue + out[sp.End:]
	}
	return out, skipped
}

// filteredItems turns injection findings into fixed-replacement items.
func filteredItems(text string, findings []Finding, replacement string) []LeakItem {
	var items []LeakItem
	for _, f := range findings {
		for _, sp := range f.Spans {
			if !sp.Valid(len(text)) {
				continue
			}
			g := f
			g.Spans = []Span{sp}
			g.Evidence = replacement
			items = append(items, LeakItem{
				Finding:       g,
				Category:      f.Technique,
				Kind:          LeakKindFiltered,
				OriginalValue: text[sp.Start:sp.End],
				MaskedValue:   replacement,
			})
		}
	}
	return items
}
