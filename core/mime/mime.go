// Package mime holds the static tables the response builder consults:
// suffix -> content type, status code -> reason phrase, and status code
// -> error page path. All three are immutable after process start.
// Grounded on the original source's httpresponse.cpp static maps.
package mime

// SuffixType maps a file suffix (including the leading dot) to its
// Content-type value. The trailing space on ".css"/".js" is preserved
// bit-for-bit, matching the original table exactly.
var SuffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css ",
	".js":    "text/javascript ",
}

// DefaultType is used when a suffix has no entry in SuffixType, or the
// path has no suffix at all.
const DefaultType = "text/plain"

// CodeStatus maps a response status code to its reason phrase. Codes not
// present here degrade to 400 in the response builder.
var CodeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// CodePath maps a status code to the on-disk error page served for it.
var CodePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}
