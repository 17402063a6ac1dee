package measure

// Category selects which pair of hardware events a timer samples.
type Category int

const (
	// CategoryDefault is inactive: timers report wall-clock time only.
	CategoryDefault Category = iota
	CategoryTotal
	CategoryDCache
	CategoryDCache2
	CategoryBranch
	CategoryTLBCache
)

var categoryNames = map[Category]string{
	CategoryDefault:  "DEFAULT",
	CategoryTotal:    "TOTAL",
	CategoryDCache:   "DCACHE",
	CategoryDCache2:  "DCACHE2",
	CategoryBranch:   "BRANCH",
	CategoryTLBCache: "TLBCACHE",
}

// Categories lists the active categories in declaration order.
func Categories() []Category {
	return []Category{CategoryTotal, CategoryDCache, CategoryDCache2, CategoryBranch, CategoryTLBCache}
}

// ParseCategory maps a MEASURE_FLAGS value to a Category. Unrecognized values,
// including the empty string, yield CategoryDefault.
func ParseCategory(s string) Category {
	for c, name := range categoryNames {
		if c != CategoryDefault && name == s {
			return c
		}
	}
	return CategoryDefault
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryDefault]
}

// Active reports whether the category has hardware events attached.
func (c Category) Active() bool {
	_, ok := c.Events()
	return ok
}

// Events returns the ordered event pair sampled for the category.
// The first event is the numerator of the derived rate, the second its
// denominator.
func (c Category) Events() ([2]Event, bool) {
	switch c {
	case CategoryTotal:
		return [2]Event{EventInstructions, EventCycles}, true
	case CategoryDCache:
		return [2]Event{EventL1DMisses, EventL1DAccesses}, true
	case CategoryDCache2:
		return [2]Event{EventL2DMisses, EventL2DAccesses}, true
	case CategoryBranch:
		return [2]Event{EventBranchMisses, EventBranches}, true
	case CategoryTLBCache:
		return [2]Event{EventDTLBMisses, EventDTLBAccesses}, true
	}
	return [2]Event{}, false
}

// Event names a hardware performance event.
type Event int

const (
	EventInstructions Event = iota + 1
	EventCycles
	EventL1DMisses
	EventL1DAccesses
	EventL2DMisses
	EventL2DAccesses
	EventBranchMisses
	EventBranches
	EventDTLBMisses
	EventDTLBAccesses
)

func (e Event) String() string {
	switch e {
	case EventInstructions:
		return "instructions"
	case EventCycles:
		return "cycles"
	case EventL1DMisses:
		return "l1d-misses"
	case EventL1DAccesses:
		return "l1d-accesses"
	case EventL2DMisses:
		return "l2d-misses"
	case EventL2DAccesses:
		return "l2d-accesses"
	case EventBranchMisses:
		return "branch-misses"
	case EventBranches:
		return "branches"
	case EventDTLBMisses:
		return "dtlb-misses"
	case EventDTLBAccesses:
		return "dtlb-accesses"
	}
	return "unknown"
}
