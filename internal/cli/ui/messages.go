package ui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
)

// MaxSuggestions caps the "did you mean" list
const MaxSuggestions = 3

// QueryError formats an engine error. For unknown queries the closest
// registered names are suggested.
//
// Example output:
//
//	✗ NOT FOUND [Ordr]
//	   get: query not found [Ordr]: no query named Ordr
//
//	   Did you mean: Order, OrderLines?
func QueryError(err error, names []string, noColor bool) string {
	red := color.New(color.FgRed, color.Bold)
	body := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	if noColor {
		red.DisableColor()
		body.DisableColor()
		yellow.DisableColor()
	}

	var b strings.Builder
	kind, classified := qerrors.KindOf(err)
	var qe *qerrors.Error
	if !classified || !errors.As(err, &qe) {
		red.Fprintf(&b, "✗ %s\n", err)
		return b.String()
	}

	header := strings.ToUpper(strings.ReplaceAll(kind.String(), "_", " "))
	if qe.Query != "" {
		header += " [" + qe.Query + "]"
	}
	red.Fprintf(&b, "✗ %s\n", header)
	body.Fprintf(&b, "   %s\n", err)

	if kind == qerrors.NotFound && qe.Query != "" {
		if similar := Suggest(qe.Query, names); len(similar) > 0 {
			b.WriteString("\n")
			yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(similar, ", "))
		}
	}
	return b.String()
}

// Success formats a success line
func Success(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// Info formats an informational line
func Info(message string, noColor bool) string {
	cyan := color.New(color.FgCyan)
	if noColor {
		cyan.DisableColor()
	}
	return cyan.Sprintf("ℹ %s", message)
}

// WriteSuccess writes a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, Success(message, noColor))
}

// Suggest returns up to MaxSuggestions candidates close to target, closest
// first. Candidates sharing target as a case-insensitive prefix always match.
func Suggest(target string, candidates []string) []string {
	type match struct {
		name     string
		distance int
	}

	lower := strings.ToLower(target)
	maxDistance := len(target)/3 + 1

	var matches []match
	for _, c := range candidates {
		lc := strings.ToLower(c)
		d := Distance(lower, lc)
		if strings.HasPrefix(lc, lower) && lower != "" {
			d = 0
		}
		if d <= maxDistance {
			matches = append(matches, match{c, d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].name < matches[j].name
	})

	out := make([]string, 0, MaxSuggestions)
	for i := 0; i < len(matches) && i < MaxSuggestions; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// Distance is the Levenshtein edit distance between a and b
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minOf(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
