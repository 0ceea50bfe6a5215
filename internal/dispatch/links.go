package dispatch

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// hrefPattern matches absolute http(s) links in an HTML body.
var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// EncodeOpenLink builds the payload segment of an open-pixel URL. The
// tracking router decodes it back to the tracking id.
func EncodeOpenLink(trackingID string) string {
	return base64.URLEncoding.EncodeToString([]byte(trackingID))
}

// EncodeClickLink builds the payload segment of a click-redirect URL.
func EncodeClickLink(trackingID, targetURL string) string {
	return base64.URLEncoding.EncodeToString([]byte(trackingID + "|" + targetURL))
}

// decorateBody instruments an outgoing HTML body for first-party tracking:
// absolute links are rewritten through the click redirect, an unsubscribe
// footer is added, and the open pixel is appended last.
func decorateBody(body, baseURL, trackingID string) string {
	base := strings.TrimRight(baseURL, "/")

	body = hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		target := hrefPattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(target, base+"/t/") {
			return match
		}
		return fmt.Sprintf(`href="%s/t/click/%s"`, base, EncodeClickLink(trackingID, target))
	})

	var b strings.Builder
	b.WriteString(body)
	fmt.Fprintf(&b, `<p style="font-size:12px;color:#888;"><a href="%s/t/unsubscribe/%s">Unsubscribe</a></p>`,
		base, EncodeOpenLink(trackingID))
	fmt.Fprintf(&b, `<img src="%s/t/open/%s" width="1" height="1" alt="">`,
		base, EncodeOpenLink(trackingID))
	return b.String()
}
