package models

// Shape selects the Gaussian model used for fitting. The numeric values are
// the ones stored in the file formats.
type Shape int

const (
	// Symmetric uses a single width for both axes
	Symmetric Shape = 1

	// Asymmetric fits independent x and y widths
	Asymmetric Shape = 2

	// Ellipse fits a rotated elliptical Gaussian
	Ellipse Shape = 3
)

func (s Shape) String() string {
	switch s {
	case Symmetric:
		return "symmetric"
	case Asymmetric:
		return "asymmetric"
	case Ellipse:
		return "ellipse"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the known shapes
func (s Shape) Valid() bool {
	return s >= Symmetric && s <= Ellipse
}

// Coordinates is the unit of the fitted positions
type Coordinates int

const (
	Nanometers Coordinates = iota
	Pixels
)

func (c Coordinates) String() string {
	if c == Pixels {
		return "PIXELS"
	}
	return "NM"
}
