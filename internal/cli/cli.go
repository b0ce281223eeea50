// Package cli holds the interactive prompts and console logging of the
// command line tool.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

//nolint:gochecknoglobals
var (
	// YesFlag enables automatic yes to prompts.
	YesFlag bool

	reader           = bufio.NewReader(os.Stdin)
	output io.Writer = os.Stdout
)

// SetIO replaces the prompt input and output.
func SetIO(in io.Reader, out io.Writer) {
	reader = bufio.NewReader(in)
	output = out
}

func prompt(msg string) (string, error) {
	fmt.Fprintf(output, "%s: ", msg)
	line, err := reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

// AskRequired asks until a non-empty answer arrives. It fails under
// YesFlag, where nobody is there to answer.
//
//nolint:forbidigo
func AskRequired(msg string) (string, error) {
	if YesFlag {
		return "", errors.Newf("%s is required and cannot be assumed with --yes", msg)
	}
	for {
		answer, err := prompt(msg)
		switch {
		case answer != "":
			return answer, nil
		case err != nil:
			return "", errors.Wrapf(err, "read %s", msg)
		}
	}
}

//nolint:gochecknoglobals
var answers = map[string]bool{"y": true, "yes": true, "n": false, "no": false}

// AskYesNo asks a yes/no question. An empty answer, end of input and
// YesFlag all pick def.
//
//nolint:forbidigo
func AskYesNo(msg string, def bool) bool {
	label := "no"
	if def {
		label = "yes"
	}
	question := fmt.Sprintf("%s [%s]", msg, label)

	if YesFlag {
		fmt.Fprintf(output, "%s: %v\n", question, def)
		return def
	}
	for {
		answer, err := prompt(question)
		if v, ok := answers[strings.ToLower(answer)]; ok {
			return v
		}
		if answer == "" || err != nil {
			return def
		}
		fmt.Fprintln(output, "Please answer 'yes' or 'no'.")
	}
}
