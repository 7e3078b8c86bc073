//go:build !no_automation

package automation

import (
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// CheckSyntax parses code without running it.
func CheckSyntax(code string) error {
	_, err := parse.Parse(strings.NewReader(code), "<script>")
	return err
}
