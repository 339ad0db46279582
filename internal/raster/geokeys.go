package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GeoKey IDs used to name the coordinate reference system.
const (
	keyGTCitation        = 1026
	keyGeographicType    = 2048
	keyProjectedCSType   = 3072
	keyUserDefined       = 32767
	geoKeyHeaderLength   = 4
	geoKeyEntryLength    = 4
	geoKeyLocationInline = 0
)

// CRS is the coordinate reference system of a raster: the EPSG code when the
// GeoKey directory names one, plus the raw directory and parameter tags.
type CRS struct {
	EPSG     int       `json:"epsg,omitempty"`
	Citation string    `json:"citation,omitempty"`
	Keys     []uint16  `json:"-"`
	Doubles  []float64 `json:"-"`
	ASCII    string    `json:"-"`
}

// IsZero reports whether no CRS information is present.
func (c CRS) IsZero() bool {
	return len(c.Keys) == 0 && c.EPSG == 0
}

// String renders the CRS like "EPSG:32633", falling back to the citation.
func (c CRS) String() string {
	switch {
	case c.EPSG > 0:
		return "EPSG:" + strconv.Itoa(c.EPSG)
	case c.Citation != "":
		return c.Citation
	case len(c.Keys) > 0:
		return "user-defined"
	}
	return ""
}

// EPSGCRS builds a minimal GeoKey directory for a projected or geographic EPSG code.
// Codes 4000-4999 are treated as geographic, everything else as projected.
func EPSGCRS(code int) CRS {
	const (
		keyModelType      = 1024
		keyRasterType     = 1025
		modelProjected    = 1
		modelGeographic   = 2
		rasterPixelIsArea = 1
	)
	model, key := uint16(modelProjected), uint16(keyProjectedCSType)
	if code >= 4000 && code < 5000 {
		model, key = modelGeographic, keyGeographicType
	}
	keys := []uint16{
		1, 1, 0, 3,
		keyModelType, geoKeyLocationInline, 1, model,
		keyRasterType, geoKeyLocationInline, 1, rasterPixelIsArea,
		key, geoKeyLocationInline, 1, uint16(code),
	}
	return CRS{EPSG: code, Keys: keys}
}

// parseCRS reads the GeoKey directory and its parameter tags.
func parseCRS(fields map[uint16]field) (CRS, error) {
	dir, ok := fields[tagGeoKeyDirectory]
	if !ok {
		return CRS{}, nil
	}
	raw, err := dir.uints()
	if err != nil {
		return CRS{}, err
	}
	if len(raw) < geoKeyHeaderLength {
		return CRS{}, fmt.Errorf("%w: geokey directory too short", ErrFormat)
	}

	var crs CRS
	crs.Keys = make([]uint16, len(raw))
	for i, v := range raw {
		crs.Keys[i] = uint16(v)
	}
	if f, ok := fields[tagGeoDoubleParams]; ok {
		if crs.Doubles, err = f.floats(); err != nil {
			return CRS{}, err
		}
	}
	if f, ok := fields[tagGeoASCIIParams]; ok {
		crs.ASCII = f.ascii()
	}

	n := int(crs.Keys[3])
	for i := 0; i < n; i++ {
		base := geoKeyHeaderLength + i*geoKeyEntryLength
		if base+geoKeyEntryLength > len(crs.Keys) {
			return CRS{}, fmt.Errorf("%w: geokey directory truncated", ErrFormat)
		}
		id, loc, count, value := crs.Keys[base], crs.Keys[base+1], crs.Keys[base+2], crs.Keys[base+3]
		switch {
		case (id == keyProjectedCSType || id == keyGeographicType) && loc == geoKeyLocationInline:
			// A projected code wins over the geographic base it is built on.
			if value != keyUserDefined && (crs.EPSG == 0 || id == keyProjectedCSType) {
				crs.EPSG = int(value)
			}
		case id == keyGTCitation && loc == tagGeoASCIIParams:
			end := int(value) + int(count)
			if end <= len(crs.ASCII) {
				crs.Citation = strings.TrimRight(crs.ASCII[value:end], "|\x00")
			}
		}
	}
	return crs, nil
}

// parseTransform derives the GDAL-ordered affine transform from the model tags.
func parseTransform(fields map[uint16]field) (GeoTransform, error) {
	if f, ok := fields[tagModelTransform]; ok {
		m, err := f.floats()
		if err != nil {
			return GeoTransform{}, err
		}
		if len(m) < 16 {
			return GeoTransform{}, fmt.Errorf("%w: model transformation has %d values", ErrFormat, len(m))
		}
		return GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}

	tp, hasTP := fields[tagModelTiepoint]
	ps, hasPS := fields[tagModelPixelScale]
	if !hasTP || !hasPS {
		return IdentityTransform, nil
	}
	tie, err := tp.floats()
	if err != nil {
		return GeoTransform{}, err
	}
	scale, err := ps.floats()
	if err != nil {
		return GeoTransform{}, err
	}
	if len(tie) < 6 || len(scale) < 2 {
		return GeoTransform{}, fmt.Errorf("%w: short tiepoint or pixel scale", ErrFormat)
	}
	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	sx, sy := scale[0], scale[1]
	return GeoTransform{x - i*sx, sx, 0, y + j*sy, 0, -sy}, nil
}

// parseNodata reads the GDAL_NODATA ASCII tag.
func parseNodata(fields map[uint16]field) (float64, bool) {
	f, ok := fields[tagGDALNodata]
	if !ok {
		return 0, false
	}
	s := strings.TrimSpace(f.ascii())
	if strings.EqualFold(s, "nan") {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatNodata(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
