package storeimport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/territory-cli/internal/territory"
)

// Record is one raw, untyped location record as read from an input file.
type Record map[string]any

// Input field names.
const (
	FieldStoreID       = "store_id"
	FieldName          = "name"
	FieldStoreType     = "store_type"
	FieldStreetAddress = "street_address"
	FieldCity          = "city"
	FieldState         = "state"
	FieldZip           = "zip"
	FieldLatitude      = "latitude"
	FieldLongitude     = "longitude"
)

// Skip reasons, checked in this order.
const (
	ReasonMissingIDOrName    = "missing_id_or_name"
	ReasonMissingCoordinates = "missing_coordinates"
	ReasonInvalidCoordinates = "invalid_coordinates"
)

// Validate converts a raw record into a Store. A non-empty reason means the
// record must be skipped; the returned Store is then zero.
func Validate(rec Record) (territory.Store, string) {
	id := text(rec[FieldStoreID])
	name := text(rec[FieldName])
	if id == "" || name == "" {
		return territory.Store{}, ReasonMissingIDOrName
	}

	latRaw, lonRaw := rec[FieldLatitude], rec[FieldLongitude]
	if blank(latRaw) || blank(lonRaw) {
		return territory.Store{}, ReasonMissingCoordinates
	}

	lat, latOK := number(latRaw)
	lon, lonOK := number(lonRaw)
	if !latOK || !lonOK || !territory.InEnvelope(lat, lon) {
		return territory.Store{}, ReasonInvalidCoordinates
	}

	st := territory.Store{
		StoreID:       id,
		Name:          name,
		StoreType:     optional(text(rec[FieldStoreType])),
		StreetAddress: optional(text(rec[FieldStreetAddress])),
		City:          optional(text(rec[FieldCity])),
		State:         optional(cases.Upper(language.AmericanEnglish).String(text(rec[FieldState]))),
		Zip:           optional(zip(rec[FieldZip])),
		Latitude:      lat,
		Longitude:     lon,
	}
	return st, ""
}

// RecordID returns the record's identifier for logging, even when invalid.
func RecordID(rec Record) string {
	return text(rec[FieldStoreID])
}

// text renders a scalar as trimmed NFC text. Maps, slices and nil become "".
func text(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		s = fmt.Sprint(t)
	}
	return norm.NFC.String(strings.TrimSpace(s))
}

// blank reports whether a coordinate value is absent.
func blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// number parses a coordinate from a JSON number, Go number, or numeric string.
func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// zip restores the leading zeros that numeric inputs drop (JSON numbers,
// spreadsheet cells): a value of one to four digits is left-padded to five.
func zip(v any) string {
	s := text(v)
	if len(s) == 0 || len(s) >= 5 {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Repeat("0", 5-len(s)) + s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
