package telemetry

import "strings"

// FacadeType identifies the configuration of a facade installation.
type FacadeType string

const (
	FacadeRefrigerated    FacadeType = "refrigerada"
	FacadeNonRefrigerated FacadeType = "no_refrigerada"
	FacadeUnknown         FacadeType = "unknown"
)

// ParseFacadeType normalizes a raw facade type. English aliases map to the
// wire values; unrecognized values are kept verbatim and empty input is unknown.
func ParseFacadeType(raw string) FacadeType {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "":
		return FacadeUnknown
	case string(FacadeRefrigerated), "refrigerated":
		return FacadeRefrigerated
	case string(FacadeNonRefrigerated), "non_refrigerated", "non-refrigerated":
		return FacadeNonRefrigerated
	case string(FacadeUnknown):
		return FacadeUnknown
	default:
		return FacadeType(value)
	}
}

// Known reports whether the type is one of the configured facade kinds.
func (t FacadeType) Known() bool {
	return t == FacadeRefrigerated || t == FacadeNonRefrigerated
}

func (t FacadeType) String() string {
	return string(t)
}
