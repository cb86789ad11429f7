package entsoe

// psrTypes maps ENTSO-E production type codes to the labels written in raw
// exports.
var psrTypes = map[string]string{
	"A03": "Mixed",
	"A04": "Generation",
	"A05": "Load",
	"B01": "Biomass",
	"B02": "Fossil Brown coal/Lignite",
	"B03": "Fossil Coal-derived gas",
	"B04": "Fossil Gas",
	"B05": "Fossil Hard coal",
	"B06": "Fossil Oil",
	"B07": "Fossil Oil shale",
	"B08": "Fossil Peat",
	"B09": "Geothermal",
	"B10": "Hydro Pumped Storage",
	"B11": "Hydro Run-of-river and poundage",
	"B12": "Hydro Water Reservoir",
	"B13": "Marine",
	"B14": "Nuclear",
	"B15": "Other renewable",
	"B16": "Solar",
	"B17": "Waste",
	"B18": "Wind Offshore",
	"B19": "Wind Onshore",
	"B20": "Other",
	"B25": "Energy storage",
}

// Technology returns the label for a psrType code, or the code itself when
// it is unknown.
func Technology(code string) string {
	if label, ok := psrTypes[code]; ok {
		return label
	}
	return code
}
