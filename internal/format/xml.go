package format

import (
	"encoding/xml"
)

type xmlMSH struct {
	SendingApp        string `xml:"sendingApp,omitempty"`
	SendingFacility   string `xml:"sendingFacility,omitempty"`
	ReceivingApp      string `xml:"receivingApp,omitempty"`
	ReceivingFacility string `xml:"receivingFacility,omitempty"`
	Timestamp         string `xml:"timestamp,omitempty"`
	Type              string `xml:"type,omitempty"`
	ControlID         string `xml:"controlId,omitempty"`
	Processing        string `xml:"processing,omitempty"`
	Version           string `xml:"version,omitempty"`
}

type xmlPID struct {
	SetID     string `xml:"setId,omitempty"`
	PatientID string `xml:"patientId,omitempty"`
	Name      string `xml:"name,omitempty"`
	DOB       string `xml:"dob,omitempty"`
	Gender    string `xml:"gender,omitempty"`
}

type xmlOBX struct {
	SetID      string `xml:"setId,omitempty"`
	ValueType  string `xml:"valueType,omitempty"`
	Identifier string `xml:"identifier,omitempty"`
	Value      string `xml:"value,omitempty"`
	Units      string `xml:"units,omitempty"`
}

type xmlMessage struct {
	XMLName  xml.Name `xml:"message"`
	MSH      *xmlMSH  `xml:"msh,omitempty"`
	PID      *xmlPID  `xml:"pid,omitempty"`
	OBX      []xmlOBX `xml:"obx,omitempty"`
	Segments []string `xml:"segment,omitempty"`
	Text     string   `xml:"text,omitempty"`
}

func parseXML(raw string) (Canonical, error) {
	var doc xmlMessage
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, conversionErr(XML, "", err)
	}

	c := Canonical{"_xml": raw}
	if doc.MSH != nil {
		c["MSH"] = map[string]string{
			"sendingApp":        doc.MSH.SendingApp,
			"sendingFacility":   doc.MSH.SendingFacility,
			"receivingApp":      doc.MSH.ReceivingApp,
			"receivingFacility": doc.MSH.ReceivingFacility,
			"timestamp":         doc.MSH.Timestamp,
			"type":              doc.MSH.Type,
			"controlId":         doc.MSH.ControlID,
			"processing":        doc.MSH.Processing,
			"version":           doc.MSH.Version,
		}
	}
	if doc.PID != nil {
		c["PID"] = map[string]string{
			"setId":     doc.PID.SetID,
			"patientId": doc.PID.PatientID,
			"name":      doc.PID.Name,
			"dob":       doc.PID.DOB,
			"gender":    doc.PID.Gender,
		}
	}
	if len(doc.OBX) > 0 {
		var obx []map[string]string
		for _, o := range doc.OBX {
			obx = append(obx, map[string]string{
				"setId":      o.SetID,
				"valueType":  o.ValueType,
				"identifier": o.Identifier,
				"value":      o.Value,
				"units":      o.Units,
			})
		}
		c["OBX"] = obx
	}
	if len(doc.Segments) > 0 {
		c["_segments"] = doc.Segments
	}
	if doc.Text != "" {
		c["_text"] = doc.Text
	}
	return c, nil
}

func buildXML(c Canonical) (string, error) {
	if raw, ok := c["_xml"].(string); ok {
		return raw, nil
	}

	doc := xmlMessage{}
	if msh, ok := c["MSH"].(map[string]string); ok {
		doc.MSH = &xmlMSH{
			SendingApp:        msh["sendingApp"],
			SendingFacility:   msh["sendingFacility"],
			ReceivingApp:      msh["receivingApp"],
			ReceivingFacility: msh["receivingFacility"],
			Timestamp:         msh["timestamp"],
			Type:              msh["type"],
			ControlID:         msh["controlId"],
			Processing:        msh["processing"],
			Version:           msh["version"],
		}
	}
	if pid, ok := c["PID"].(map[string]string); ok {
		doc.PID = &xmlPID{
			SetID:     pid["setId"],
			PatientID: pid["patientId"],
			Name:      pid["name"],
			DOB:       pid["dob"],
			Gender:    pid["gender"],
		}
	}
	if obx, ok := c["OBX"].([]map[string]string); ok {
		for _, o := range obx {
			doc.OBX = append(doc.OBX, xmlOBX{
				SetID:      o["setId"],
				ValueType:  o["valueType"],
				Identifier: o["identifier"],
				Value:      o["value"],
				Units:      o["units"],
			})
		}
	}
	if segs, ok := c["_segments"].([]string); ok {
		doc.Segments = segs
	}
	if text, ok := c["_text"].(string); ok {
		doc.Text = text
	}

	data, err := xml.Marshal(doc)
	if err != nil {
		return "", conversionErr("", XML, err)
	}
	return string(data), nil
}
