package canfd

// FrameFilter decides whether a frame is of interest. A nil FrameFilter
// matches every frame.
type FrameFilter func(Frame) bool

// Identifier filters.

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := set[f.ID]
		return ok
	}
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return f.ID&mask == want }
}

// ByIDWord applies an acceptance filter or mailbox mask in identifier word
// layout, so software filtering agrees with what the core would store.
// MaskStdID and MaskExtID select an exact identifier.
func ByIDWord(mask, id uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return f.idWord()&mask == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// Format filters.

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// RTROnly matches remote transmission request frames.
func RTROnly() FrameFilter {
	return func(f Frame) bool { return f.RTR }
}

// FDOnly matches CAN FD frames.
func FDOnly() FrameFilter {
	return func(f Frame) bool { return f.FD }
}

// ClassicOnly matches classic CAN frames.
func ClassicOnly() FrameFilter {
	return func(f Frame) bool { return !f.FD }
}

// BRSOnly matches CAN FD frames sent with bit rate switching.
func BRSOnly() FrameFilter {
	return func(f Frame) bool { return f.FD && f.BRS }
}

// ByMarker matches TX event records carrying the given message marker.
func ByMarker(mm uint8) FrameFilter {
	return func(f Frame) bool { return f.Marker == mm }
}

// LenAtMost matches frames with at most n payload bytes.
func LenAtMost(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len <= n }
}

// LenExactly matches frames with exactly n payload bytes.
func LenExactly(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len == n }
}

// Combinators. Nil operands are ignored.

// And matches when every filter matches.
func And(filters ...FrameFilter) FrameFilter {
	fs := compact(filters)
	return func(f Frame) bool {
		for _, fn := range fs {
			if !fn(f) {
				return false
			}
		}
		return true
	}
}

// Or matches when any filter matches. With no non-nil filters it matches
// every frame, like a nil FrameFilter.
func Or(filters ...FrameFilter) FrameFilter {
	fs := compact(filters)
	if len(fs) == 0 {
		return func(Frame) bool { return true }
	}
	return func(f Frame) bool {
		for _, fn := range fs {
			if fn(f) {
				return true
			}
		}
		return false
	}
}

// Not inverts a filter. Not(nil) matches nothing.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}

func compact(filters []FrameFilter) []FrameFilter {
	fs := make([]FrameFilter, 0, len(filters))
	for _, fn := range filters {
		if fn != nil {
			fs = append(fs, fn)
		}
	}
	return fs
}

// match applies a possibly nil filter.
func (fn FrameFilter) match(f Frame) bool { return fn == nil || fn(f) }
