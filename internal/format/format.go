package format

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format is the wire form of a message payload.
type Format string

const (
	HL7  Format = "HL7"
	JSON Format = "JSON"
	XML  Format = "XML"
	TEXT Format = "TEXT"
)

// ParseFormat normalizes a stored data-type string to a Format.
func ParseFormat(s string) Format {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HL7", "HL7V2":
		return HL7
	case "JSON":
		return JSON
	case "XML":
		return XML
	default:
		return TEXT
	}
}

// ConversionError reports a failed translation between wire forms.
type ConversionError struct {
	From Format
	To   Format
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("format dönüşümü başarısız (%s -> %s): %v", e.From, e.To, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func conversionErr(from, to Format, err error) error {
	return &ConversionError{From: from, To: to, Err: err}
}

// Detect inspects a raw payload and guesses its wire form. A segment header
// prefix wins, then a JSON parse attempt, then markup delimiters; anything
// else is plain text.
func Detect(raw string) Format {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "MSH|") {
		return HL7
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return JSON
		}
	}
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return XML
	}
	return TEXT
}

// Canonical is the structured form every conversion passes through: a map
// keyed by segment name (MSH, PID, an ordered OBX list) plus escape keys that
// carry unmapped content verbatim ("_segments" for unrecognized segment lines,
// "_json"/"_xml"/"_text" for the source document so a same-format round trip
// loses nothing).
type Canonical map[string]any

// ToCanonical parses a raw payload in the declared format.
func ToCanonical(raw string, f Format) (Canonical, error) {
	switch f {
	case HL7:
		c, err := parseHL7(raw)
		if err != nil {
			return nil, conversionErr(HL7, "", err)
		}
		return c, nil
	case JSON:
		return parseJSON(raw)
	case XML:
		return parseXML(raw)
	case TEXT:
		return Canonical{"_text": raw}, nil
	default:
		return nil, conversionErr(f, "", fmt.Errorf("bilinmeyen format: %s", f))
	}
}

// FromCanonical renders the structured form in the target format. Only the
// known segment subset is mapped field-for-field; the rest rides along in the
// escape keys when the target can carry it.
func FromCanonical(c Canonical, f Format) (string, error) {
	switch f {
	case HL7:
		return buildHL7(c)
	case JSON:
		return buildJSON(c)
	case XML:
		return buildXML(c)
	case TEXT:
		if text, ok := c["_text"].(string); ok {
			return text, nil
		}
		return buildHL7(c)
	default:
		return "", conversionErr("", f, fmt.Errorf("bilinmeyen format: %s", f))
	}
}

// Convert translates a raw payload from one wire form to another.
func Convert(raw string, from, to Format) (string, error) {
	if from == to {
		return raw, nil
	}
	c, err := ToCanonical(raw, from)
	if err != nil {
		return "", conversionErr(from, to, err)
	}
	out, err := FromCanonical(c, to)
	if err != nil {
		return "", conversionErr(from, to, err)
	}
	return out, nil
}

func parseJSON(raw string) (Canonical, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, conversionErr(JSON, "", err)
	}

	c := Canonical{"_json": raw}

	// Structured object form: segments already keyed by name.
	if msh, ok := v["MSH"].(map[string]any); ok {
		c["MSH"] = toStringMap(msh)
	}
	if pid, ok := v["PID"].(map[string]any); ok {
		c["PID"] = toStringMap(pid)
	}
	if obx, ok := v["OBX"].([]any); ok {
		var repeats []map[string]string
		for _, o := range obx {
			if om, ok := o.(map[string]any); ok {
				repeats = append(repeats, toStringMap(om))
			}
		}
		c["OBX"] = repeats
	}

	// Flat demographic form used by the dashboard and user scripts.
	if _, ok := c["PID"]; !ok {
		pid := map[string]string{}
		for key, field := range map[string]string{
			"patientId": "patientId", "name": "name", "dob": "dob", "gender": "gender",
		} {
			if s, ok := v[key].(string); ok && s != "" {
				pid[field] = s
			}
		}
		if len(pid) > 0 {
			c["PID"] = pid
		}
	}
	if _, ok := c["MSH"]; !ok {
		if t, ok := v["hl7type"].(string); ok && t != "" {
			c["MSH"] = map[string]string{"type": t}
		}
	}

	return c, nil
}

func buildJSON(c Canonical) (string, error) {
	if raw, ok := c["_json"].(string); ok {
		return raw, nil
	}

	out := map[string]any{}
	if pid, ok := c["PID"].(map[string]string); ok {
		for k, v := range map[string]string{
			"patientId": pid["patientId"], "name": pid["name"],
			"dob": pid["dob"], "gender": pid["gender"],
		} {
			if v != "" {
				out[k] = v
			}
		}
	}
	if msh, ok := c["MSH"].(map[string]string); ok {
		if msh["type"] != "" {
			out["hl7type"] = msh["type"]
		}
	}
	if obx, ok := c["OBX"].([]map[string]string); ok && len(obx) > 0 {
		out["observations"] = obx
	}
	if segs, ok := c["_segments"].([]string); ok && len(segs) > 0 {
		out["_segments"] = segs
	}
	if text, ok := c["_text"].(string); ok {
		out["text"] = text
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", conversionErr("", JSON, err)
	}
	return string(data), nil
}

func toStringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
