package fus

import (
	"encoding/xml"
	"strings"
)

type fusMsg struct {
	XMLName xml.Name `xml:"FUSMsg"`
	FUSHdr  fusHdr   `xml:"FUSHdr"`
	FUSBody fusBody  `xml:"FUSBody"`
}

type fusHdr struct {
	ProtoVer string `xml:"ProtoVer"`
}

type fusBody struct {
	Put fusPut `xml:"Put"`
}

type fusPut struct {
	Elements []fusElement
}

type fusElement struct {
	XMLName xml.Name
	Data    string `xml:"Data"`
}

func elem(name, data string) fusElement {
	return fusElement{XMLName: xml.Name{Local: name}, Data: data}
}

func (p fusPut) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, el := range p.Elements {
		elStart := xml.StartElement{Name: el.XMLName}
		if err := e.EncodeToken(elStart); err != nil {
			return err
		}
		if err := e.EncodeElement(el.Data, xml.StartElement{Name: xml.Name{Local: "Data"}}); err != nil {
			return err
		}
		if err := e.EncodeToken(elStart.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func marshalMsg(elements []fusElement) string {
	msg := fusMsg{
		FUSHdr:  fusHdr{ProtoVer: "1.0"},
		FUSBody: fusBody{Put: fusPut{Elements: elements}},
	}
	// Only strings are encoded, which cannot fail.
	data, _ := xml.Marshal(msg)
	return string(data)
}

// InformParams are the inputs of a binary-info request.
type InformParams struct {
	Model   string
	Region  string
	Version string
	// IMEI is sent as DEVICE_IMEI_PUSH when set (IMEI or serial number).
	IMEI          string
	ClientVersion string
}

// carrier is the fixed network identity sent for multi-CSC regions.
type carrier struct{ cc, mcc, mnc string }

var regionCarriers = map[string]carrier{
	"EUX": {cc: "DE", mcc: "262", mnc: "01"},
	"EUY": {cc: "RS", mcc: "220", mnc: "01"},
}

// BinaryInformRequest builds the NF_DownloadBinaryInform.do body. The
// LOGIC_CHECK token is computed over the firmware version.
func BinaryInformRequest(p InformParams, nonceValue string) string {
	elements := []fusElement{
		elem("ACCESS_MODE", "2"),
		elem("BINARY_NATURE", "1"),
		elem("CLIENT_PRODUCT", "Smart Switch"),
		elem("DEVICE_FW_VERSION", p.Version),
		elem("DEVICE_LOCAL_CODE", p.Region),
		elem("DEVICE_MODEL_NAME", p.Model),
		elem("UPGRADE_VARIABLE", "0"),
		elem("OBEX_SUPPORT", "0"),
	}
	if p.IMEI != "" {
		elements = append(elements, elem("DEVICE_IMEI_PUSH", p.IMEI))
	}
	elements = append(elements, elem("DEVICE_PLATFORM", "Android"))
	if p.ClientVersion != "" {
		elements = append(elements, elem("CLIENT_VERSION", p.ClientVersion))
	}
	elements = append(elements, elem("LOGIC_CHECK", LogicCheck(p.Version, nonceValue)))

	if c, ok := regionCarriers[p.Region]; ok {
		elements = append(elements,
			elem("DEVICE_AID_CODE", p.Region),
			elem("DEVICE_CC_CODE", c.cc),
			elem("MCC_NUM", c.mcc),
			elem("MNC_NUM", c.mnc),
		)
	}
	return marshalMsg(elements)
}

// BinaryInitRequest builds the NF_DownloadBinaryInitForMass.do body.
func BinaryInitRequest(filename, nonceValue string) string {
	return marshalMsg([]fusElement{
		elem("BINARY_FILE_NAME", filename),
		elem("LOGIC_CHECK", LogicCheck(CheckInput(filename), nonceValue)),
	})
}

// CheckInput is the part of a binary file name the download LOGIC_CHECK is
// computed over: the last 16 characters before the first '.'.
func CheckInput(filename string) string {
	base, _, _ := strings.Cut(filename, ".")
	if len(base) <= 16 {
		return base
	}
	return base[len(base)-16:]
}
