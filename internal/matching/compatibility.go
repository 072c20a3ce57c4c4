package matching

// BloodType is one of the 8 ABO/Rh groups.
type BloodType string

const (
	APositive  BloodType = "A+"
	ANegative  BloodType = "A-"
	BPositive  BloodType = "B+"
	BNegative  BloodType = "B-"
	ABPositive BloodType = "AB+"
	ABNegative BloodType = "AB-"
	OPositive  BloodType = "O+"
	ONegative  BloodType = "O-"
)

// AllBloodTypes lists every valid blood type.
var AllBloodTypes = []BloodType{
	APositive, ANegative, BPositive, BNegative,
	ABPositive, ABNegative, OPositive, ONegative,
}

// compatibilityChart maps a recipient blood type to the donor types that can
// supply it. AB+ accepts from everyone, O- donors are universal.
var compatibilityChart = map[BloodType][]BloodType{
	APositive:  {APositive, ANegative, OPositive, ONegative},
	ANegative:  {ANegative, ONegative},
	BPositive:  {BPositive, BNegative, OPositive, ONegative},
	BNegative:  {BNegative, ONegative},
	ABPositive: {APositive, ANegative, BPositive, BNegative, ABPositive, ABNegative, OPositive, ONegative},
	ABNegative: {ANegative, BNegative, ABNegative, ONegative},
	OPositive:  {OPositive, ONegative},
	ONegative:  {ONegative},
}

// CompatibleDonorTypes returns the donor blood types eligible to supply the
// requested type. Used to pick which donors get notified about a new request;
// it does not gate who may accept.
func CompatibleDonorTypes(requested BloodType) []BloodType {
	types, ok := compatibilityChart[requested]
	if !ok {
		return []BloodType{requested}
	}
	out := make([]BloodType, len(types))
	copy(out, types)
	return out
}

// IsValid reports whether bt is one of the 8 recognized blood types.
func (bt BloodType) IsValid() bool {
	_, ok := compatibilityChart[bt]
	return ok
}
