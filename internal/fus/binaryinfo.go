package fus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// BinaryInfo describes the firmware artifact returned by
// NF_DownloadBinaryInform.do.
type BinaryInfo struct {
	DisplayName       string
	OSVersion         string
	ModelPath         string
	BinaryName        string
	BinarySize        int64
	Version           string
	LogicValueFactory string
	DecryptKey        DecryptKey
}

// DecryptedName is the file name of the binary once decrypted.
func (b *BinaryInfo) DecryptedName() string {
	return DecryptedName(b.BinaryName)
}

var (
	pathStatus       = []string{"FUSMsg", "FUSBody", "Results", "Status"}
	pathLatestFW     = []string{"FUSMsg", "FUSBody", "Results", "LATEST_FW_VERSION", "Data"}
	pathPut          = []string{"FUSMsg", "FUSBody", "Put"}
	fieldBinaryName  = "BINARY_NAME"
	fieldBinarySize  = "BINARY_BYTE_SIZE"
	fieldDisplayName = "DEVICE_MODEL_DISPLAYNAME"
	fieldOSVersion   = "CURRENT_OS_VERSION"
	fieldModelPath   = "MODEL_PATH"
	fieldLogicValue  = "LOGIC_VALUE_FACTORY"
)

// responseStatus extracts Results/Status from a FUSMsg response.
func responseStatus(doc *Document) (int, error) {
	s, ok := doc.Field(pathStatus...)
	if !ok {
		return 0, &MalformedError{Field: strings.Join(pathStatus, "/")}
	}
	status, err := strconv.Atoi(s)
	if err != nil {
		return 0, &MalformedError{Field: strings.Join(pathStatus, "/"), Err: err}
	}
	return status, nil
}

func putField(doc *Document, name string) (string, error) {
	path := append(append([]string{}, pathPut...), name, "Data")
	v, ok := doc.Field(path...)
	if !ok {
		return "", &MalformedError{Field: strings.Join(path, "/")}
	}
	return v, nil
}

// ParseBinaryInfo builds a BinaryInfo from a BinaryInform response body.
func ParseBinaryInfo(ctx context.Context, model, region string, body []byte) (*BinaryInfo, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}

	status, err := responseStatus(doc)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &StatusError{Request: "DownloadBinaryInform", Status: status}
	}

	info := &BinaryInfo{}
	if info.BinaryName, err = putField(doc, fieldBinaryName); err != nil {
		return nil, err
	}
	if info.BinaryName == "" {
		return nil, fmt.Errorf("failed to find firmware bundle: %w",
			&MalformedError{Field: fieldBinaryName, Err: fmt.Errorf("empty")})
	}

	size, err := putField(doc, fieldBinarySize)
	if err != nil {
		return nil, err
	}
	if info.BinarySize, err = strconv.ParseInt(size, 10, 64); err != nil {
		return nil, &MalformedError{Field: fieldBinarySize, Err: err}
	}

	var ok bool
	if info.Version, ok = doc.Field(pathLatestFW...); !ok {
		return nil, &MalformedError{Field: strings.Join(pathLatestFW, "/")}
	}
	if info.DisplayName, err = putField(doc, fieldDisplayName); err != nil {
		return nil, err
	}
	if info.OSVersion, err = putField(doc, fieldOSVersion); err != nil {
		return nil, err
	}
	if info.ModelPath, err = putField(doc, fieldModelPath); err != nil {
		return nil, err
	}
	// Only .enc4 keys need it. An empty value is warned about by SelectKey.
	info.LogicValueFactory, err = putField(doc, fieldLogicValue)
	if err != nil && strings.HasSuffix(info.BinaryName, SchemeV4.Suffix()) {
		return nil, err
	}

	info.DecryptKey = SelectKey(ctx, model, region, KeyFields{
		BinaryName:        info.BinaryName,
		Version:           info.Version,
		LogicValueFactory: info.LogicValueFactory,
	})
	return info, nil
}
