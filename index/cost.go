package index

// CostEstimate is expressed in sequential page fetches scaled by the
// configured page cost.
type CostEstimate struct {
	StartupCost float64
	TotalCost   float64
	Pages       uint32
}

// EstimateCost prices one full pass over the index per outer row. Half the
// page cost is charged since a page visit touches only compact signatures.
func (idx *Index) EstimateCost(outerRows float64) CostEstimate {
	pages := idx.NumPages()

	total := float64(pages) * idx.seqPageCost / 2
	if outerRows > 1 {
		total *= outerRows
	}

	return CostEstimate{
		StartupCost: 0,
		TotalCost:   total,
		Pages:       pages,
	}
}
