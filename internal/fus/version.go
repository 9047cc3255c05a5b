package fus

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// FirmwareSpec is one firmware entry of version.xml.
type FirmwareSpec struct {
	Version string
	Size    int64
}

// VersionInfo lists the latest firmware and the known upgrade paths.
type VersionInfo struct {
	Latest  FirmwareSpec
	Upgrade []FirmwareSpec
}

type versionXML struct {
	XMLName  xml.Name `xml:"versioninfo"`
	Firmware struct {
		Version struct {
			Latest  string `xml:"latest"`
			Upgrade struct {
				Value []struct {
					Text   string `xml:",chardata"`
					FWSize string `xml:"fwsize,attr"`
				} `xml:"value"`
			} `xml:"upgrade"`
		} `xml:"version"`
	} `xml:"firmware"`
}

// NormalizeVersion expands a version code to its four-part
// PDA/CSC/MODEM/BOOTLOADER form.
func NormalizeVersion(vercode string) string {
	ver := strings.Split(vercode, "/")
	if len(ver) == 3 {
		ver = append(ver, ver[0])
	}
	if len(ver) >= 3 && ver[2] == "" {
		ver[2] = ver[0]
	}
	return strings.Join(ver, "/")
}

func (c *Client) fetchVersionXML(ctx context.Context, model, region string) (*versionXML, error) {
	url := fmt.Sprintf("%s/firmware/%s/%s/version.xml", c.fotaURL, region, model)
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("model or region not found: %w", &HTTPError{Path: "version.xml", Status: resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Path: "version.xml", Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}

	var v versionXML
	if err := xml.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("parse version.xml: %w", err)
	}
	return &v, nil
}

// FetchVersion returns the normalized latest firmware version.
func (c *Client) FetchVersion(ctx context.Context, model, region string) (string, error) {
	v, err := c.fetchVersionXML(ctx, model, region)
	if err != nil {
		return "", err
	}
	latest := strings.TrimSpace(v.Firmware.Version.Latest)
	if latest == "" {
		return "", ErrNoFirmware
	}
	return NormalizeVersion(latest), nil
}

// FetchVersionInfo returns the latest version together with the upgrade
// entries and their sizes.
func (c *Client) FetchVersionInfo(ctx context.Context, model, region string) (*VersionInfo, error) {
	v, err := c.fetchVersionXML(ctx, model, region)
	if err != nil {
		return nil, err
	}

	info := &VersionInfo{}
	if latest := strings.TrimSpace(v.Firmware.Version.Latest); latest != "" {
		info.Latest = FirmwareSpec{Version: NormalizeVersion(latest)}
	}
	for _, u := range v.Firmware.Version.Upgrade.Value {
		size, err := strconv.ParseInt(u.FWSize, 10, 64)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).
				Str("version", u.Text).
				Str("fwsize", u.FWSize).
				Msg("unparsable upgrade size, using 0")
			size = 0
		}
		info.Upgrade = append(info.Upgrade, FirmwareSpec{
			Version: NormalizeVersion(strings.TrimSpace(u.Text)),
			Size:    size,
		})
	}
	return info, nil
}
