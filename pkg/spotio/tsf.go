package spotio

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
)

// Tagged spot file schema. Field numbers follow TSFProto:
//
//	message SpotList {
//	  required int32  application_id = 1;
//	  optional string name = 2;
//	  optional string filepath = 3;
//	  optional fixed64 uid = 4;
//	  optional int32  nr_pixels_x = 5;
//	  optional int32  nr_pixels_y = 6;
//	  optional float  pixel_size = 7;
//	  optional int64  nr_spots = 8;
//	  optional int32  box_size = 17;
//	  optional int32  nr_channels = 18;
//	  optional int32  nr_frames = 19;
//	  optional int32  nr_slices = 20;
//	  optional int32  nr_pos = 21;
//	  optional LocationUnits  location_units = 22;
//	  optional IntensityUnits intensity_units = 23;
//	  optional FitMode fit_mode = 24;
//	  optional bool   is_track = 25;
//	}
//
//	message Spot {
//	  required int32 molecule = 1;
//	  required int32 channel = 2;
//	  required int32 frame = 3;
//	  optional int32 slice = 4;
//	  optional int32 pos = 5;
//	  required float x = 7;
//	  required float y = 8;
//	  optional float z = 9;
//	  required float intensity = 10;
//	  optional float background = 11;
//	  optional float width = 12;
//	  optional float a = 13;
//	  optional float theta = 14;
//	  optional float x_precision = 104;
//	  optional int32 x_position = 107;
//	  optional int32 y_position = 108;
//	  extensions 1500 to 2047;
//	}
//
// Extensions 1500-1504 carry the auxiliary spot values, in the order of
// models.Keys. They are only interpreted when application_id is 6.
const applicationID = 6

const (
	listApplicationID  protowire.Number = 1
	listName           protowire.Number = 2
	listFilepath       protowire.Number = 3
	listNrPixelsX      protowire.Number = 5
	listNrPixelsY      protowire.Number = 6
	listPixelSize      protowire.Number = 7
	listNrSpots        protowire.Number = 8
	listBoxSize        protowire.Number = 17
	listNrChannels     protowire.Number = 18
	listNrFrames       protowire.Number = 19
	listNrSlices       protowire.Number = 20
	listNrPos          protowire.Number = 21
	listLocationUnits  protowire.Number = 22
	listIntensityUnits protowire.Number = 23
	listFitMode        protowire.Number = 24
	listIsTrack        protowire.Number = 25
)

const (
	spotMolecule   protowire.Number = 1
	spotChannel    protowire.Number = 2
	spotFrame      protowire.Number = 3
	spotSlice      protowire.Number = 4
	spotPos        protowire.Number = 5
	spotX          protowire.Number = 7
	spotY          protowire.Number = 8
	spotZ          protowire.Number = 9
	spotIntensity  protowire.Number = 10
	spotBackground protowire.Number = 11
	spotWidth      protowire.Number = 12
	spotA          protowire.Number = 13
	spotTheta      protowire.Number = 14
	spotXPrecision protowire.Number = 104
	spotXPosition  protowire.Number = 107
	spotYPosition  protowire.Number = 108

	spotExtensionBase protowire.Number = 1500
)

// enum values
const (
	unitsNM     = 0
	unitsUM     = 1
	unitsPixels = 2

	intensityPhotons = 1

	fitModeOneAxis         = 0
	fitModeTwoAxis         = 1
	fitModeTwoAxisAndTheta = 2
)

// missingValue is written for extension values that were never measured
const missingValue = -1.0

func appendVarintField(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendFloatField(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v)))
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendDelimited appends msg prefixed with its varint length
func appendDelimited(b, msg []byte) []byte {
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

// encodeSpot serializes one spot in field-number order
func encodeSpot(b []byte, s *models.Spot, hasZ bool) []byte {
	b = appendVarintField(b, spotMolecule, int64(s.Nr()))
	b = appendVarintField(b, spotChannel, int64(s.Channel()))
	b = appendVarintField(b, spotFrame, int64(s.Frame()))
	b = appendVarintField(b, spotSlice, int64(s.Slice()))
	b = appendVarintField(b, spotPos, int64(s.Position()))
	b = appendFloatField(b, spotX, s.XCenter())
	b = appendFloatField(b, spotY, s.YCenter())
	if hasZ {
		b = appendFloatField(b, spotZ, s.ZCenter())
	}
	b = appendFloatField(b, spotIntensity, s.Intensity())
	b = appendFloatField(b, spotBackground, s.Background())
	b = appendFloatField(b, spotWidth, s.Width())
	b = appendFloatField(b, spotA, s.A())
	b = appendFloatField(b, spotTheta, s.Theta())
	b = appendFloatField(b, spotXPrecision, s.Sigma())
	b = appendVarintField(b, spotXPosition, int64(s.X()))
	b = appendVarintField(b, spotYPosition, int64(s.Y()))
	for i, k := range models.Keys {
		b = appendFloatField(b, spotExtensionBase+protowire.Number(i), s.ValueOr(k, missingValue))
	}
	return b
}

// encodeSpotList serializes the dataset summary
func encodeSpotList(b []byte, d *dataset.Dataset) []byte {
	b = appendVarintField(b, listApplicationID, applicationID)
	b = appendStringField(b, listName, d.Name())
	b = appendStringField(b, listFilepath, d.Title())
	b = appendVarintField(b, listNrPixelsX, int64(d.Width()))
	b = appendVarintField(b, listNrPixelsY, int64(d.Height()))
	b = appendFloatField(b, listPixelSize, d.PixelSize())
	b = appendVarintField(b, listNrSpots, int64(d.Len()))
	b = appendVarintField(b, listBoxSize, int64(d.BoxSize()))
	b = appendVarintField(b, listNrChannels, int64(d.NrChannels()))
	b = appendVarintField(b, listNrFrames, int64(d.NrFrames()))
	b = appendVarintField(b, listNrSlices, int64(d.NrSlices()))
	b = appendVarintField(b, listNrPos, int64(d.NrPositions()))
	units := int64(unitsNM)
	if d.Coordinates() == models.Pixels {
		units = unitsPixels
	}
	b = appendVarintField(b, listLocationUnits, units)
	b = appendVarintField(b, listIntensityUnits, intensityPhotons)
	b = appendVarintField(b, listFitMode, fitModeFor(d.Shape()))
	b = appendVarintField(b, listIsTrack, int64(protowire.EncodeBool(d.IsTrack())))
	return b
}

func fitModeFor(s models.Shape) int64 {
	switch s {
	case models.Asymmetric:
		return fitModeTwoAxis
	case models.Ellipse:
		return fitModeTwoAxisAndTheta
	default:
		return fitModeOneAxis
	}
}

// spotList is the decoded summary record
type spotList struct {
	appID       int
	name        string
	filepath    string
	width       int
	height      int
	pixelSize   float64
	nrSpots     int64
	boxSize     int
	nrChannels  int
	nrFrames    int
	nrSlices    int
	nrPos       int
	units       int
	fitMode     int
	isTrack     bool
	hasAppID    bool
	hasPixelDim bool
}

// builder converts the summary into a dataset builder without spots
func (l *spotList) builder() *dataset.Builder {
	b := dataset.NewBuilder()
	b.Name = l.name
	b.Title = l.filepath
	b.Width = l.width
	b.Height = l.height
	b.PixelSize = l.pixelSize
	b.HalfSize = l.boxSize / 2
	b.NrChannels = l.nrChannels
	b.NrFrames = l.nrFrames
	b.NrSlices = l.nrSlices
	b.NrPositions = l.nrPos
	b.IsTrack = l.isTrack
	switch l.fitMode {
	case fitModeTwoAxis:
		b.Shape = models.Asymmetric
	case fitModeTwoAxisAndTheta:
		b.Shape = models.Ellipse
	default:
		b.Shape = models.Symmetric
	}
	if l.units == unitsPixels {
		b.Coordinates = models.Pixels
	}
	return b
}

var errMissingRequired = errors.New("missing required field")

// decodeSpotList parses a SpotList message
func decodeSpotList(b []byte) (*spotList, error) {
	l := &spotList{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			switch num {
			case listApplicationID:
				l.appID = int(int32(v))
				l.hasAppID = true
			case listNrPixelsX:
				l.width = int(int32(v))
				l.hasPixelDim = true
			case listNrPixelsY:
				l.height = int(int32(v))
			case listNrSpots:
				l.nrSpots = int64(v)
			case listBoxSize:
				l.boxSize = int(int32(v))
			case listNrChannels:
				l.nrChannels = int(int32(v))
			case listNrFrames:
				l.nrFrames = int(int32(v))
			case listNrSlices:
				l.nrSlices = int(int32(v))
			case listNrPos:
				l.nrPos = int(int32(v))
			case listLocationUnits:
				l.units = int(int32(v))
			case listFitMode:
				l.fitMode = int(int32(v))
			case listIsTrack:
				l.isTrack = protowire.DecodeBool(v)
			}
		case typ == protowire.Fixed32Type && num == listPixelSize:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			l.pixelSize = float64(math.Float32frombits(v))
		case typ == protowire.BytesType && (num == listName || num == listFilepath):
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			if num == listName {
				l.name = v
			} else {
				l.filepath = v
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !l.hasAppID {
		return nil, fmt.Errorf("spot list: %w: application_id", errMissingRequired)
	}
	return l, nil
}

// required spot fields
const (
	reqMolecule = 1 << iota
	reqChannel
	reqFrame
	reqX
	reqY
	reqIntensity

	reqAll = reqMolecule | reqChannel | reqFrame | reqX | reqY | reqIntensity
)

// decodeSpot parses a Spot message. The returned flag reports whether the
// record carried a z value.
func decodeSpot(b []byte, withExtensions bool) (*models.Spot, bool, error) {
	var (
		molecule, channel, frame, slice, pos int
		xPos, yPos                           int
		x, y, z, intensity, background       float64
		width, a, theta, precision           float64
		ext                                  [5]float64
		extSet                               [5]bool
		seen                                 int
		hasZ                                 bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			u, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, false, protowire.ParseError(m)
			}
			b = b[m:]
			v := int(int32(u))
			switch num {
			case spotMolecule:
				molecule = v
				seen |= reqMolecule
			case spotChannel:
				channel = v
				seen |= reqChannel
			case spotFrame:
				frame = v
				seen |= reqFrame
			case spotSlice:
				slice = v
			case spotPos:
				pos = v
			case spotXPosition:
				xPos = v
			case spotYPosition:
				yPos = v
			}
		case protowire.Fixed32Type:
			u, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, false, protowire.ParseError(m)
			}
			b = b[m:]
			v := float64(math.Float32frombits(u))
			switch num {
			case spotX:
				x = v
				seen |= reqX
			case spotY:
				y = v
				seen |= reqY
			case spotZ:
				z = v
				hasZ = true
			case spotIntensity:
				intensity = v
				seen |= reqIntensity
			case spotBackground:
				background = v
			case spotWidth:
				width = v
			case spotA:
				a = v
			case spotTheta:
				theta = v
			case spotXPrecision:
				precision = v
			default:
				if i := int(num - spotExtensionBase); i >= 0 && i < len(ext) {
					ext[i] = v
					extSet[i] = true
				}
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, false, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if seen != reqAll {
		return nil, false, fmt.Errorf("spot: %w", errMissingRequired)
	}

	s := models.NewSpot(channel, slice, frame, pos, molecule, xPos, yPos)
	s.SetData(intensity, background, x, y, z, width, a, theta, precision)
	if withExtensions {
		for i, k := range models.Keys {
			if extSet[i] && ext[i] != missingValue {
				s.SetValue(k, ext[i])
			}
		}
	}
	return s, hasZ, nil
}
