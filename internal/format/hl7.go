package format

import (
	"fmt"
	"strings"
	"time"
)

// Pipe-delimited field positions for the fully mapped segment subset. Index 0
// is the segment name itself.
//
//	MSH: 2 sendingApp, 3 sendingFacility, 4 receivingApp, 5 receivingFacility,
//	     6 timestamp, 8 type, 9 controlId, 10 processing, 11 version
//	PID: 1 setId, 3 patientId, 5 name, 7 dob, 8 gender
//	OBX: 1 setId, 2 valueType, 3 identifier, 5 value, 6 units

func parseHL7(raw string) (Canonical, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")
	lines := strings.Split(normalized, "\r")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("boş mesaj")
	}
	if !strings.HasPrefix(lines[0], "MSH|") {
		return nil, fmt.Errorf("geçersiz HL7 mesajı: MSH segmenti bulunamadı")
	}

	c := Canonical{}
	var obx []map[string]string
	var extra []string

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		switch fields[0] {
		case "MSH":
			msh := map[string]string{
				"sendingApp":        fieldAt(fields, 2),
				"sendingFacility":   fieldAt(fields, 3),
				"receivingApp":      fieldAt(fields, 4),
				"receivingFacility": fieldAt(fields, 5),
				"timestamp":         fieldAt(fields, 6),
				"type":              fieldAt(fields, 8),
				"controlId":         fieldAt(fields, 9),
				"processing":        fieldAt(fields, 10),
				"version":           fieldAt(fields, 11),
			}
			c["MSH"] = msh
		case "PID":
			c["PID"] = map[string]string{
				"setId":     fieldAt(fields, 1),
				"patientId": fieldAt(fields, 3),
				"name":      fieldAt(fields, 5),
				"dob":       fieldAt(fields, 7),
				"gender":    fieldAt(fields, 8),
			}
		case "OBX":
			obx = append(obx, map[string]string{
				"setId":      fieldAt(fields, 1),
				"valueType":  fieldAt(fields, 2),
				"identifier": fieldAt(fields, 3),
				"value":      fieldAt(fields, 5),
				"units":      fieldAt(fields, 6),
			})
		default:
			// Unmapped segment types are preserved verbatim, never dropped.
			extra = append(extra, line)
		}
	}

	if len(obx) > 0 {
		c["OBX"] = obx
	}
	if len(extra) > 0 {
		c["_segments"] = extra
	}
	return c, nil
}

func buildHL7(c Canonical) (string, error) {
	var lines []string

	msh, _ := c["MSH"].(map[string]string)
	if msh == nil {
		msh = map[string]string{}
	}
	lines = append(lines, fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|%s|%s",
		valueOr(msh["sendingApp"], "HL7ENGINE"),
		valueOr(msh["sendingFacility"], "MINASOFT"),
		msh["receivingApp"],
		msh["receivingFacility"],
		valueOr(msh["timestamp"], time.Now().Format("20060102150405")),
		valueOr(msh["type"], "ADT^A01"),
		valueOr(msh["controlId"], "1"),
		valueOr(msh["processing"], "P"),
		valueOr(msh["version"], "2.5"),
	))

	if pid, ok := c["PID"].(map[string]string); ok {
		lines = append(lines, fmt.Sprintf("PID|%s||%s||%s||%s|%s",
			valueOr(pid["setId"], "1"),
			pid["patientId"], pid["name"], pid["dob"], pid["gender"]))
	}

	if obx, ok := c["OBX"].([]map[string]string); ok {
		for i, o := range obx {
			lines = append(lines, fmt.Sprintf("OBX|%s|%s|%s||%s|%s",
				valueOr(o["setId"], fmt.Sprintf("%d", i+1)),
				o["valueType"], o["identifier"], o["value"], o["units"]))
		}
	}

	if extra, ok := c["_segments"].([]string); ok {
		lines = append(lines, extra...)
	}

	return strings.Join(lines, "\r"), nil
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
