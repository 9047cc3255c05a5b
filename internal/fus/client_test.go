package fus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeFUS imitates the FUS endpoints. Every BinaryInform response rotates
// the nonce to testNonce2Encoded.
type fakeFUS struct {
	t           *testing.T
	noNonce     bool
	noCookie    bool
	ignoreRange bool

	// downloadStatus, when set, fails the binary download with that status.
	downloadStatus int

	mu    sync.Mutex
	auths map[string][]string
	cooks map[string][]string
}

func (f *fakeFUS) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auths == nil {
		f.auths = map[string][]string{}
		f.cooks = map[string][]string{}
	}
	f.auths[r.URL.Path] = append(f.auths[r.URL.Path], r.Header.Get("Authorization"))
	c, _ := r.Cookie("JSESSIONID")
	v := ""
	if c != nil {
		v = c.Value
	}
	f.cooks[r.URL.Path] = append(f.cooks[r.URL.Path], v)
}

func (f *fakeFUS) auth(path string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auths[path][i]
}

func (f *fakeFUS) cookie(path string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooks[path][i]
}

func (f *fakeFUS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if r.Header.Get("User-Agent") != DefaultUserAgent {
		f.t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
	}
	switch r.URL.Path {
	case "/NF_DownloadGenerateNonce.do":
		if !f.noNonce {
			w.Header().Set("NONCE", testNonceEncoded)
		}
		if !f.noCookie {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "sess-1"})
		}
	case "/NF_DownloadBinaryInform.do":
		body, _ := io.ReadAll(r.Body)
		doc, err := ParseDocument(body)
		if err != nil {
			f.t.Errorf("inform body: %v", err)
		}
		if doc != nil {
			if v, _ := doc.Field("FUSMsg", "FUSBody", "Put", "DEVICE_MODEL_NAME", "Data"); v != "SM-G998B" {
				f.t.Errorf("DEVICE_MODEL_NAME = %q", v)
			}
		}
		w.Header().Set("NONCE", testNonce2Encoded)
		_, _ = w.Write(informBody(200, "SM-G998B_fw.zip.enc4"))
	case "/NF_DownloadBinaryInitForMass.do":
		_, _ = w.Write([]byte("<FUSMsg><FUSBody><Results><Status>200</Status></Results></FUSBody></FUSMsg>"))
	case "/NF_DownloadBinaryForMass.do":
		if got := r.URL.Query().Get("file"); got != "/neofus/9/SM-G998B_fw.zip.enc4" {
			f.t.Errorf("file = %q", got)
		}
		if f.downloadStatus != 0 {
			w.Header().Set("NONCE", testNonce2Encoded)
			w.WriteHeader(f.downloadStatus)
			return
		}
		if f.ignoreRange {
			w.Header().Set("NONCE", testNonce2Encoded)
		}
		if rng := r.Header.Get("Range"); rng != "" && !f.ignoreRange {
			if rng != "bytes=4-" {
				f.t.Errorf("Range = %q", rng)
			}
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("4567"))
			return
		}
		_, _ = w.Write([]byte("01234567"))
	case "/firmware/EUX/SM-G998B/version.xml":
		_, _ = w.Write([]byte(`<versioninfo><firmware><version>
<latest o="12">G998BXXU1AUA1/G998BOXM1AUA1/G998BXXU1AUA1</latest>
<upgrade><value rcount="1" fwsize="1234">G998BXXU1AUA0/G998BOXM1AUA0//G998BXXU1AUA0</value></upgrade>
</version></firmware></versioninfo>`))
	case "/firmware/EUX/SM-BAD/version.xml":
		_, _ = w.Write([]byte(`<versioninfo><firmware><version>
<latest>A/B/C/D</latest>
<upgrade><value fwsize="huge">A0/B0/C0/D0</value></upgrade>
</version></firmware></versioninfo>`))
	case "/firmware/EUX/SM-NONE/version.xml":
		_, _ = w.Write([]byte(`<versioninfo><firmware><version><latest/></version></firmware></versioninfo>`))
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
	}
}

func newTestClient(t *testing.T, f *fakeFUS, opts ...Option) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithHTTPClient(srv.Client()), WithEndpoints(srv.URL, srv.URL+"/", srv.URL)}, opts...)
	return NewClient(opts...)
}

func TestClientSessionFlow(t *testing.T) {
	f := &fakeFUS{}
	c := newTestClient(t, f)
	ctx := context.Background()

	s, err := c.BeginSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "sess-1" || s.Nonce.Value != testNonceValue {
		t.Fatalf("session = %+v", s)
	}
	if got := f.auth("/NF_DownloadGenerateNonce.do", 0); got != `FUS newauth="1"` {
		t.Errorf("challenge Authorization = %q", got)
	}

	info, err := c.FileInfo(ctx, s, InformParams{Model: "SM-G998B", Region: "EUX", Version: testVersion})
	if err != nil {
		t.Fatal(err)
	}
	if info.BinaryName != "SM-G998B_fw.zip.enc4" || info.DecryptKey.Scheme != SchemeV4 {
		t.Errorf("info = %+v", info)
	}
	// signed with the first nonce, rotated by the response
	if got := f.auth("/NF_DownloadBinaryInform.do", 0); !strings.Contains(got, `signature="`+testNonceSignature+`"`) {
		t.Errorf("inform Authorization = %q", got)
	}
	if s.Nonce.Signature != testNonce2Signature {
		t.Errorf("nonce not rotated: %+v", s.Nonce)
	}

	if err := c.InitDownload(ctx, s, info.BinaryName); err != nil {
		t.Fatal(err)
	}
	if got := f.auth("/NF_DownloadBinaryInitForMass.do", 0); !strings.Contains(got, `signature="`+testNonce2Signature+`"`) ||
		!strings.Contains(got, `nonce=""`) {
		t.Errorf("init Authorization = %q", got)
	}
	// no NONCE header in that response, so the rotated nonce stays
	if s.Nonce.Signature != testNonce2Signature {
		t.Errorf("nonce changed without a header")
	}
	if got := f.cookie("/NF_DownloadBinaryInitForMass.do", 0); got != "sess-1" {
		t.Errorf("cookie = %q", got)
	}

	resp, err := c.Download(ctx, s, info, 0)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "01234567" {
		t.Errorf("body = %q", body)
	}
	if got := f.auth("/NF_DownloadBinaryForMass.do", 0); !strings.Contains(got, `nonce="`+testNonce2Encoded+`"`) {
		t.Errorf("download Authorization = %q", got)
	}

	resp, err = c.Download(ctx, s, info, 4)
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "4567" {
		t.Errorf("resumed body = %q", body)
	}
}

func TestDownloadRangeIgnored(t *testing.T) {
	c := newTestClient(t, &fakeFUS{ignoreRange: true})
	s, err := NewSession(testNonceEncoded, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	info := &BinaryInfo{ModelPath: "/neofus/9/", BinaryName: "SM-G998B_fw.zip.enc4"}
	if _, err := c.Download(context.Background(), s, info, 4); !errors.Is(err, ErrRangeIgnored) {
		t.Errorf("err = %v, want ErrRangeIgnored", err)
	}
	if s.Nonce.Value != testNonce2Value {
		t.Errorf("nonce not rotated on ignored range: %+v", s.Nonce)
	}
}

func TestDownloadErrorRotatesNonce(t *testing.T) {
	c := newTestClient(t, &fakeFUS{downloadStatus: http.StatusNotFound})
	s, err := NewSession(testNonceEncoded, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	info := &BinaryInfo{ModelPath: "/neofus/9/", BinaryName: "SM-G998B_fw.zip.enc4"}
	_, err = c.Download(context.Background(), s, info, 0)
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want HTTPError 404", err)
	}
	if s.Nonce.Value != testNonce2Value {
		t.Errorf("nonce not rotated on failed download: %+v", s.Nonce)
	}
}

func TestBeginSessionErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestClient(t, &fakeFUS{noNonce: true}).BeginSession(ctx)
	if !errors.Is(err, ErrMissingNonce) || !IsAuthError(err) {
		t.Errorf("err = %v, want ErrMissingNonce", err)
	}

	_, err = newTestClient(t, &fakeFUS{noCookie: true}).BeginSession(ctx)
	if !errors.Is(err, ErrMissingSessionID) {
		t.Errorf("err = %v, want ErrMissingSessionID", err)
	}

	s, err := newTestClient(t, &fakeFUS{noCookie: true}, WithSessionCookie(false)).BeginSession(ctx)
	if err != nil {
		t.Fatalf("cookies disabled: %v", err)
	}
	if s.ID != "" {
		t.Errorf("ID = %q", s.ID)
	}
}

func TestRequestHTTPError(t *testing.T) {
	c := newTestClient(t, &fakeFUS{})
	s, err := NewSession(testNonceEncoded, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.request(context.Background(), s, "NF_Unknown.do", "")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusForbidden {
		t.Errorf("err = %v, want HTTPError 403", err)
	}
}

func TestFetchVersion(t *testing.T) {
	c := newTestClient(t, &fakeFUS{})
	ctx := context.Background()

	v, err := c.FetchVersion(ctx, "SM-G998B", "EUX")
	if err != nil {
		t.Fatal(err)
	}
	if want := "G998BXXU1AUA1/G998BOXM1AUA1/G998BXXU1AUA1/G998BXXU1AUA1"; v != want {
		t.Errorf("FetchVersion = %q, want %q", v, want)
	}

	info, err := c.FetchVersionInfo(ctx, "SM-G998B", "EUX")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Upgrade) != 1 || info.Upgrade[0].Size != 1234 ||
		info.Upgrade[0].Version != "G998BXXU1AUA0/G998BOXM1AUA0/G998BXXU1AUA0/G998BXXU1AUA0" {
		t.Errorf("upgrade = %+v", info.Upgrade)
	}

	if _, err := c.FetchVersion(ctx, "SM-NONE", "EUX"); !errors.Is(err, ErrNoFirmware) {
		t.Errorf("err = %v, want ErrNoFirmware", err)
	}
	_, err = c.FetchVersion(ctx, "SM-XXXX", "EUX")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusForbidden {
		t.Errorf("err = %v, want HTTPError 403", err)
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"A/B/C", "A/B/C/A"},
		{"A/B//D", "A/B/A/D"},
		{"A/B/C/D", "A/B/C/D"},
		{"A", "A"},
	}
	for _, tt := range tests {
		if got := NormalizeVersion(tt.in); got != tt.want {
			t.Errorf("NormalizeVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchVersionInfoBadSize(t *testing.T) {
	c := newTestClient(t, &fakeFUS{})
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).Level(zerolog.DebugLevel).WithContext(context.Background())

	info, err := c.FetchVersionInfo(ctx, "SM-BAD", "EUX")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Upgrade) != 1 || info.Upgrade[0].Size != 0 || info.Upgrade[0].Version != "A0/B0/C0/D0" {
		t.Errorf("upgrade = %+v", info.Upgrade)
	}
	if !strings.Contains(buf.String(), `"fwsize":"huge"`) {
		t.Errorf("bad size not logged: %q", buf.String())
	}
}
