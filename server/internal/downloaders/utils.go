package downloaders

import (
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var (
	shellLike  = regexp.MustCompile(`(\$\{)|(\&\&)`)
	ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)
)

func argsSanitizer(params []string) []string {
	params = slices.DeleteFunc(params, func(e string) bool {
		return shellLike.MatchString(e)
	})

	params = slices.DeleteFunc(params, func(e string) bool {
		return e == ""
	})

	return params
}

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// urlExt returns the extension of the URL path without the leading dot.
func urlExt(u string) string {
	info, err := url.Parse(u)
	if err != nil {
		return strings.TrimPrefix(filepath.Ext(u), ".")
	}
	return strings.TrimPrefix(filepath.Ext(info.Path), ".")
}
