package vision

// Region names one crop of a subject photograph together with the
// region-specific guidance passed to the oracle. The set is fixed: every
// analysis consults the same regions in the same order, so two runs over the
// same photograph differ only in oracle output.
type Region struct {
	Name        string
	Instruction string
}

// Regions is the canonical region set. The full frame anchors the vote; the
// junction crops isolate where signs attach to the pole, which is where
// material and mounting style are easiest to read; the shaft and base crops
// catch weathering and foundation details the junctions miss.
var Regions = []Region{
	{
		Name: "full",
		Instruction: "Assess the entire photograph. Identify the sign holder " +
			"(pole or post) and classify it; ignore pavement, vegetation and background structures.",
	},
	{
		Name: "upper-junction",
		Instruction: "This crop shows the area just above where signs attach to the pole. " +
			"Judge the pole surface and any visible cap or top fitting.",
	},
	{
		Name: "main-junction",
		Instruction: "This crop centers on the sign mounting point. " +
			"Judge the pole material from the surface behind the brackets and the bracket style.",
	},
	{
		Name: "lower-junction",
		Instruction: "This crop shows the area just below the sign mounting point. " +
			"Judge the exposed pole surface between the signs and the ground.",
	},
	{
		Name: "center-shaft",
		Instruction: "This crop isolates the pole shaft. " +
			"Judge texture, seams, taper and color of the shaft itself.",
	},
	{
		Name: "upper-section",
		Instruction: "This crop shows the upper portion of the pole. " +
			"Look for luminaires, signal heads or double-arm fittings that indicate the pole type.",
	},
	{
		Name: "base-section",
		Instruction: "This crop shows the pole base and foundation. " +
			"Judge anchor bolts, concrete footing or direct burial, and corrosion at ground level.",
	},
}

// RegionNames returns the names of the canonical region set, in order.
func RegionNames() []string {
	names := make([]string, len(Regions))
	for i, r := range Regions {
		names[i] = r.Name
	}
	return names
}
