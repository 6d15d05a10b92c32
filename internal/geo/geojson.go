package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// ReadGeoJSON loads a FeatureCollection. Field order follows the first
// appearance of each property key in the file.
func ReadGeoJSON(path string) (*Layer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	order, err := propertyOrder(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	layer := &Layer{
		Name: stem(path),
		SRS:  WGS84,
	}
	for _, f := range fc.Features {
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		layer.Features = append(layer.Features, &Feature{Geometry: f.Geometry, Props: props})
	}
	layer.Fields = inferFields(layer.Features, order)
	normalize(layer)
	return layer, nil
}

// propertyOrder lists property keys across all features in document order.
func propertyOrder(doc []byte) ([]string, error) {
	var raw struct {
		Features []struct {
			Properties json.RawMessage `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, err
	}

	var order []string
	seen := make(map[string]bool)
	for _, f := range raw.Features {
		keys, err := objectKeys(f.Properties)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}
	return order, nil
}

func objectKeys(obj json.RawMessage) ([]string, error) {
	if len(obj) == 0 || string(obj) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(obj))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("properties is not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// WriteGeoJSON writes the layer as an RFC 7946 FeatureCollection in WGS 84.
// Properties follow the layer's field order.
func WriteGeoJSON(path string, layer *Layer) error {
	l := layer
	if layer.SRS != nil && layer.SRS.ID != WGS84.ID {
		var err error
		if l, err = layer.Reproject(WGS84); err != nil {
			return err
		}
	}

	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, len(l.Features))}
	for i, f := range l.Features {
		g := json.RawMessage("null")
		if f.Geometry != nil {
			b, err := geojson.Marshal(f.Geometry)
			if err != nil {
				return fmt.Errorf("encode feature %d: %w", i, err)
			}
			g = b
		}
		fc.Features[i] = feature{
			Type:       "Feature",
			Geometry:   g,
			Properties: properties{fields: l.Fields, values: f.Props},
		}
	}

	b, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties properties      `json:"properties"`
}

// properties encodes feature attributes as a JSON object keyed in field order.
type properties struct {
	fields []Field
	values map[string]any
}

func (p properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.values[f.Name])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
