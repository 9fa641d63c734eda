package extractor

import (
	"fmt"
	"time"

	"prism/internal/types"
)

// Decode converts a pure PrimitiveRecord into the typed Primitives form.
// Tolerant of JSON-ish typing (float64 for numbers, []any for lists); a key
// of an unexpected kind is an error, not a silent drop.
func Decode(r types.PrimitiveRecord) (types.Primitives, error) {
	var p types.Primitives
	var err error

	if p.EntityName, err = stringField(r, types.FieldEntityName); err != nil {
		return p, err
	}
	if p.GivenName, err = stringField(r, types.FieldGivenName); err != nil {
		return p, err
	}
	if p.FamilyName, err = stringField(r, types.FieldFamilyName); err != nil {
		return p, err
	}
	if p.OrgName, err = stringField(r, types.FieldOrgName); err != nil {
		return p, err
	}
	if p.StreetAddress, err = stringField(r, types.FieldStreetAddress); err != nil {
		return p, err
	}
	if p.City, err = stringField(r, types.FieldCity); err != nil {
		return p, err
	}
	if p.Postcode, err = stringField(r, types.FieldPostcode); err != nil {
		return p, err
	}
	if p.Country, err = stringField(r, types.FieldCountry); err != nil {
		return p, err
	}
	if p.Phone, err = stringField(r, types.FieldPhone); err != nil {
		return p, err
	}
	if p.Email, err = stringField(r, types.FieldEmail); err != nil {
		return p, err
	}
	if p.WebsiteURL, err = stringField(r, types.FieldWebsiteURL); err != nil {
		return p, err
	}
	if p.Description, err = stringField(r, types.FieldDescription); err != nil {
		return p, err
	}
	if p.Summary, err = stringField(r, types.FieldSummary); err != nil {
		return p, err
	}

	if p.Latitude, err = floatField(r, types.FieldLatitude); err != nil {
		return p, err
	}
	if p.Longitude, err = floatField(r, types.FieldLongitude); err != nil {
		return p, err
	}

	if p.TimeStart, err = timeField(r, types.FieldTimeStart); err != nil {
		return p, err
	}
	if p.TimeEnd, err = timeField(r, types.FieldTimeEnd); err != nil {
		return p, err
	}

	if p.RawCategories, err = stringListField(r, types.FieldRawCategories); err != nil {
		return p, err
	}

	if v, ok := r[types.FieldRawObservations]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return p, fmt.Errorf("%s must be a map, got %T", types.FieldRawObservations, v)
		}
		p.RawObservations = m
	}

	if v, ok := r[types.FieldStructuralCounts]; ok && v != nil {
		counts, err := intMapField(v)
		if err != nil {
			return p, fmt.Errorf("%s: %w", types.FieldStructuralCounts, err)
		}
		p.StructuralCounts = counts
	}

	if v, ok := r[types.FieldExternalIDs]; ok && v != nil {
		ids, err := externalIDsField(v)
		if err != nil {
			return p, fmt.Errorf("%s: %w", types.FieldExternalIDs, err)
		}
		p.ExternalIDs = ids
	}

	return p, nil
}

func stringField(r types.PrimitiveRecord, key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func floatField(r types.PrimitiveRecord, key string) (*float64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		return &n, nil
	case float32:
		f := float64(n)
		return &f, nil
	case int:
		f := float64(n)
		return &f, nil
	case int64:
		f := float64(n)
		return &f, nil
	}
	return nil, fmt.Errorf("%s must be numeric, got %T", key, v)
}

func timeField(r types.PrimitiveRecord, key string) (*time.Time, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, fmt.Errorf("%s must be RFC3339, got %q", key, t)
		}
		return &parsed, nil
	}
	return nil, fmt.Errorf("%s must be a timestamp, got %T", key, v)
}

func stringListField(r types.PrimitiveRecord, key string) ([]string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must be a list, got %T", key, v)
}

func intMapField(v any) (map[string]int, error) {
	switch m := v.(type) {
	case map[string]int:
		return m, nil
	case map[string]any:
		out := make(map[string]int, len(m))
		for k, item := range m {
			switch n := item.(type) {
			case int:
				out[k] = n
			case float64:
				out[k] = int(n)
			default:
				return nil, fmt.Errorf("count %q must be an integer, got %T", k, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("must be a map of counts, got %T", v)
}

func externalIDsField(v any) (map[string]map[string]string, error) {
	switch m := v.(type) {
	case map[string]map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]map[string]string, len(m))
		for source, inner := range m {
			innerMap, ok := inner.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ids for source %q must be a map, got %T", source, inner)
			}
			ids := make(map[string]string, len(innerMap))
			for k, val := range innerMap {
				s, ok := val.(string)
				if !ok {
					return nil, fmt.Errorf("id %q for source %q must be a string, got %T", k, source, val)
				}
				ids[k] = s
			}
			out[source] = ids
		}
		return out, nil
	}
	return nil, fmt.Errorf("must be a source-scoped id map, got %T", v)
}
