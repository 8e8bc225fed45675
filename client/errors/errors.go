// Package errors renders aggregated errors, such as the per-mirror download
// failures collected while provisioning tools, as a readable bullet list.
package errors

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

func formatError(es []error) string {
	if len(es) == 1 {
		return fmt.Sprintf("1 error occurred:\n\t* %s", es[0])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:", len(es))
	for _, err := range es {
		fmt.Fprintf(&sb, "\n\t* %s", err)
	}
	return sb.String()
}

// FormatErrorOrNil applies the bullet-list rendering to a multierror and
// collapses an empty one to nil.
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatError
	}
	return err.ErrorOrNil()
}
