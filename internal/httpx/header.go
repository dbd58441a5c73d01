package httpx

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderCode classifies a header by name. Unrecognized but well-formed
// headers get HdrOther; malformed ones get HdrIllegal and are dropped.
type HeaderCode int

const (
	HdrOther HeaderCode = iota
	HdrTransferEncoding
	HdrContentLength
	HdrConnection
	HdrLocation
	HdrContentLocation
	HdrHost
	HdrReferer
	HdrUserAgent
	HdrDestination
	HdrExpect
	HdrUpgrade
	HdrAuthorization
	HdrIllegal
)

var headerCodes = map[string]HeaderCode{
	"transfer-encoding": HdrTransferEncoding,
	"content-length":    HdrContentLength,
	"connection":        HdrConnection,
	"location":          HdrLocation,
	"content-location":  HdrContentLocation,
	"host":              HdrHost,
	"referer":           HdrReferer,
	"user-agent":        HdrUserAgent,
	"destination":       HdrDestination,
	"expect":            HdrExpect,
	"upgrade":           HdrUpgrade,
	"authorization":     HdrAuthorization,
}

// Header is one header line kept verbatim. Rewrites operate on Text;
// Code is recomputed when Text changes.
type Header struct {
	Text string // full "Name: value" line, no CRLF
	Code HeaderCode
}

// ClassifyHeader splits a raw header line and returns its code.
func ClassifyHeader(text string) HeaderCode {
	name, value, ok := strings.Cut(text, ":")
	if !ok || name == "" {
		return HdrIllegal
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return HdrIllegal
	}
	if !httpguts.ValidHeaderFieldValue(strings.TrimLeft(value, " \t")) {
		return HdrIllegal
	}
	if code, ok := headerCodes[strings.ToLower(name)]; ok {
		return code
	}
	return HdrOther
}

// Name returns the header's field name.
func (h *Header) Name() string {
	name, _, _ := strings.Cut(h.Text, ":")
	return strings.TrimSpace(name)
}

// Value returns the header's field value with surrounding blanks removed.
func (h *Header) Value() string {
	_, value, ok := strings.Cut(h.Text, ":")
	if !ok {
		return ""
	}
	return strings.Trim(value, " \t")
}

// SetText replaces the header line and reclassifies it.
func (h *Header) SetText(text string) {
	h.Text = text
	h.Code = ClassifyHeader(text)
}
