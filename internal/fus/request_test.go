package fus

import (
	"strings"
	"testing"
)

func hasField(doc *Document, path ...string) bool {
	_, ok := doc.Field(path...)
	return ok
}

func TestBinaryInformRequest(t *testing.T) {
	p := InformParams{
		Model:         "SM-G998B",
		Region:        "XAR",
		Version:       testVersion,
		IMEI:          "351234567890123",
		ClientVersion: DefaultClientVersion,
	}
	body := BinaryInformRequest(p, testNonceValue)

	doc, err := ParseDocument([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"ACCESS_MODE":       "2",
		"DEVICE_FW_VERSION": testVersion,
		"DEVICE_LOCAL_CODE": "XAR",
		"DEVICE_MODEL_NAME": "SM-G998B",
		"DEVICE_IMEI_PUSH":  "351234567890123",
		"CLIENT_VERSION":    DefaultClientVersion,
		"LOGIC_CHECK":       "G998BXXU1A998BXX",
	}
	for field, v := range want {
		got, ok := doc.Field("FUSMsg", "FUSBody", "Put", field, "Data")
		if !ok || got != v {
			t.Errorf("%s = %q (present %v), want %q", field, got, ok, v)
		}
	}
	if v, _ := doc.Field("FUSMsg", "FUSHdr", "ProtoVer"); v != "1.0" {
		t.Errorf("ProtoVer = %q", v)
	}
	if hasField(doc, "FUSMsg", "FUSBody", "Put", "MCC_NUM") {
		t.Errorf("carrier fields sent for XAR")
	}
}

func TestBinaryInformRequestRegionCarrier(t *testing.T) {
	body := BinaryInformRequest(InformParams{Model: "SM-G998B", Region: "EUX", Version: testVersion}, testNonceValue)
	doc, err := ParseDocument([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := doc.Field("FUSMsg", "FUSBody", "Put", "MCC_NUM", "Data"); v != "262" {
		t.Errorf("MCC_NUM = %q, want 262", v)
	}
	if hasField(doc, "FUSMsg", "FUSBody", "Put", "DEVICE_IMEI_PUSH") {
		t.Errorf("DEVICE_IMEI_PUSH sent without an IMEI")
	}
}

func TestCheckInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"SM-G998B_1_20210101000000_abcdefghij_fac.zip.enc4", "0_abcdefghij_fac"},
		{"short.zip.enc4", "short"},
		{"0123456789abcdef", "0123456789abcdef"},
	}
	for _, tt := range tests {
		if got := CheckInput(tt.in); got != tt.want {
			t.Errorf("CheckInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBinaryInitRequest(t *testing.T) {
	name := "SM-G998B_1_20210101000000_abcdefghij_fac.zip.enc4"
	body := BinaryInitRequest(name, testNonceValue)
	if !strings.Contains(body, "<BINARY_FILE_NAME><Data>"+name+"</Data></BINARY_FILE_NAME>") {
		t.Errorf("missing file name in %s", body)
	}
	if !strings.Contains(body, "<LOGIC_CHECK><Data>0_abcdefgh_abcde</Data></LOGIC_CHECK>") {
		t.Errorf("unexpected logic check in %s", body)
	}
}
