package smem

// bankOf maps a lane address onto its (bank, subbank) pair.
func (c Config) bankOf(addr uint64) (int, int) {
	word := addr / uint64(c.WordBytes)
	bank := int(word % uint64(c.NumBanks))
	subbank := int((word / uint64(c.NumBanks)) % uint64(c.NumSubbanks))
	return bank, subbank
}

// Split breaks one instruction into per-(bank, subbank) group requests.
// Lanes that fall on the same pair travel together in one child; the
// child's byte count scales with its lane count. Requests without lane
// addresses map by their scalar address.
func (c Config) Split(req Request) []Request {
	active := req.ActiveLanes
	if active == 0 {
		active = 1
	}
	bytesPerLane := req.Bytes / active
	if bytesPerLane == 0 {
		bytesPerLane = 1
	}

	if len(req.LaneAddrs) == 0 {
		child := req
		child.Bank, child.Subbank = c.bankOf(req.Addr)
		return []Request{child}
	}

	type group struct {
		lanes uint32
		addr  uint64
	}
	type key struct{ bank, subbank int }

	groups := make(map[key]*group)
	var order []key
	for _, addr := range req.LaneAddrs {
		bank, subbank := c.bankOf(addr)
		k := key{bank: bank, subbank: subbank}
		g, ok := groups[k]
		if !ok {
			g = &group{addr: addr}
			groups[k] = g
			order = append(order, k)
		}
		g.lanes++
	}

	children := make([]Request, 0, len(order))
	for _, k := range order {
		g := groups[k]
		child := req
		child.Bank = k.bank
		child.Subbank = k.subbank
		child.Addr = g.addr
		child.ActiveLanes = g.lanes
		child.Bytes = bytesPerLane * g.lanes
		if child.Bytes == 0 {
			child.Bytes = 1
		}
		child.LaneAddrs = nil
		children = append(children, child)
	}
	return children
}

// ConflictOf computes the bank-conflict shape of one instruction: how
// many distinct banks and (bank, subbank) pairs its active lanes touch,
// and how many lanes must serialize behind a shared bank.
func (c Config) ConflictOf(req Request) ConflictSample {
	active := req.ActiveLanes
	if active == 0 {
		active = 1
	}

	if len(req.LaneAddrs) == 0 {
		return ConflictSample{
			ActiveLanes:    active,
			UniqueBanks:    1,
			UniqueSubbanks: 1,
			ConflictLanes:  active - 1,
		}
	}

	banks := make(map[int]struct{})
	subbanks := make(map[[2]int]struct{})
	for _, addr := range req.LaneAddrs {
		bank, subbank := c.bankOf(addr)
		banks[bank] = struct{}{}
		subbanks[[2]int{bank, subbank}] = struct{}{}
	}

	uniqueBanks := uint32(len(banks))
	conflictLanes := uint32(0)
	if served := uniqueBanks; active > served {
		conflictLanes = active - served
	}
	return ConflictSample{
		ActiveLanes:    active,
		UniqueBanks:    uniqueBanks,
		UniqueSubbanks: uint32(len(subbanks)),
		ConflictLanes:  conflictLanes,
	}
}
