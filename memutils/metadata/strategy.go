package metadata

// AllocationStrategy exposes several options for choosing the free block a new allocation is carved
// from. If none is chosen, AllocationStrategyMinMemory is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free block that can hold the allocation,
	// scanning the whole list of each size class that is searched. Ties go to the block seen first.
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first free block that can hold the allocation in each
	// size class that is searched, possibly at the expense of fragmentation.
	AllocationStrategyMinTime
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
}

func (s AllocationStrategy) String() string {
	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "Unknown"
	}
	return str
}

// ParseAllocationStrategy maps a name produced by AllocationStrategy.String back to its value
func ParseAllocationStrategy(name string) (AllocationStrategy, bool) {
	for strategy, str := range allocationStrategyMapping {
		if str == name {
			return strategy, true
		}
	}

	return 0, false
}
